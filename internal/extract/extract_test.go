package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

const aboutPage = `<html><head>
<title>Example Corp | About</title>
<meta name="description" content="About Example Corp">
<meta name="theme-color" content="#0044cc">
</head><body>
<header><nav><a href="/service">Services</a><a href="https://other.org/x">Other</a></nav></header>
<main>
<h1>About Example Corp</h1>
<p>We build sales automation for small teams.</p>
<p>Hi</p>
<ul><li>CRM integration</li><li>Lead scoring</li></ul>
<a href="/contact">Contact us</a>
<h2>Company profile</h2>
<table><tr><th>Name</th><td>Example Corp</td></tr><tr><th>Founded</th><td>2010</td></tr></table>
<div><h2>Mission</h2></div>
<p>Make every salesperson effective.</p>
<h3>Empty</h3>
<h2>Access</h2>
<dl><dt>Address</dt><dd>1-2-3 Shibuya, Tokyo</dd></dl>
</main>
<div class="sidebar"><table><tr><th>Capital</th><td>10M JPY</td></tr></table></div>
<footer><a href="/privacy#top">Privacy</a><a href="/brochure.pdf">Brochure</a><a href="mailto:info@example.com">Mail</a></footer>
</body></html>`

func TestExtractHeadingSections(t *testing.T) {
	t.Parallel()

	doc, err := New().Extract([]byte(aboutPage), "https://example.com/about", "text/html; charset=utf-8")
	require.NoError(t, err)

	require.Equal(t, "Example Corp | About", doc.Title)
	require.Equal(t, "About Example Corp", doc.Description)
	require.Equal(t, "#0044cc", doc.ThemeColor)
	require.Equal(t, CategoryCompanyInfo, doc.Category)

	require.Equal(t, []crawler.Section{
		{
			Title:        "About Example Corp",
			ContentLines: []string{"We build sales automation for small teams.", "• CRM integration", "• Lead scoring"},
			LinkLines:    []string{"Contact us → https://example.com/contact"},
		},
		{
			Title:        "Company profile",
			ContentLines: []string{"Name: Example Corp", "Founded: 2010"},
		},
		{
			Title:        "Mission",
			ContentLines: []string{"Make every salesperson effective."},
		},
		{
			Title:        "Access",
			ContentLines: []string{"Address: 1-2-3 Shibuya, Tokyo"},
		},
		{
			Title:        OtherInformationTitle,
			ContentLines: []string{"Capital: 10M JPY"},
		},
	}, doc.Sections)

	require.Equal(t, []crawler.Link{
		{URL: "https://example.com/service", Text: "Services"},
		{URL: "https://example.com/contact", Text: "Contact us"},
		{URL: "https://example.com/privacy", Text: "Privacy"},
	}, doc.Links)
}

func TestExtractFallsBackToMainContent(t *testing.T) {
	t.Parallel()

	raw := `<html><head>
<meta property="og:title" content="OG Title">
<meta property="og:description" content="OG description">
</head><body><div class="content"><div>First block of text here</div><div>Second block text</div></div></body></html>`

	doc, err := New().Extract([]byte(raw), "https://example.com/", "")
	require.NoError(t, err)
	require.Equal(t, "OG Title", doc.Title)
	require.Equal(t, "OG description", doc.Description)
	require.Equal(t, CategoryTop, doc.Category)
	require.Equal(t, []crawler.Section{
		{Title: MainContentTitle, ContentLines: []string{"First block of text here", "Second block text"}},
	}, doc.Sections)
}

func TestExtractOtherInformationOnly(t *testing.T) {
	t.Parallel()

	raw := `<html><body><table><tr><td>Representative</td><td>Taro Yamada</td></tr><tr><td>Employees</td><td>120</td></tr></table></body></html>`
	doc, err := New().Extract([]byte(raw), "https://example.com/company/overview", "")
	require.NoError(t, err)
	require.Len(t, doc.Sections, 2)
	require.Equal(t, OtherInformationTitle, doc.Sections[0].Title)
	require.Equal(t, []string{"Representative: Taro Yamada", "Employees: 120"}, doc.Sections[0].ContentLines)
	require.Equal(t, MainContentTitle, doc.Sections[1].Title)
}

func TestExtractRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New().Extract([]byte("<html></html>"), "://bad", "")
	require.Error(t, err)
}

func TestCategory(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://example.com/":                  CategoryTop,
		"https://example.com/company/overview":  CategoryCompanyInfo,
		"https://example.com/pricing":           CategoryPricing,
		"https://example.com/faq/":              CategoryFAQ,
		"https://example.com/contact":           CategoryContact,
		"https://example.com/case-studies/acme": CategoryCaseStudies,
		"https://example.com/recruit":           CategoryRecruiting,
		"https://example.com/news/2024/01":      CategoryNews,
		"https://example.com/service/crm":       CategoryServices,
		"https://example.com/legal":             CategoryGeneral,
	}
	for in, want := range cases {
		require.Equal(t, want, Category(in), in)
	}
}
