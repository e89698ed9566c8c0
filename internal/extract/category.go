package extract

import (
	"net/url"
	"strings"
)

// Page categories inferred from URL paths.
const (
	CategoryTop         = "top"
	CategoryCompanyInfo = "company info"
	CategoryServices    = "services"
	CategoryPricing     = "pricing"
	CategoryFAQ         = "faq"
	CategoryContact     = "contact"
	CategoryCaseStudies = "case studies"
	CategoryRecruiting  = "recruiting"
	CategoryNews        = "news"
	CategoryAccess      = "access"
	CategoryGeneral     = "general"
)

type categoryRule struct {
	category string
	keywords []string
}

// Rules are checked in order; the first keyword found in the path wins.
var categoryRules = []categoryRule{
	{CategoryCompanyInfo, []string{"about", "company", "corporate", "overview", "profile", "gaiyo", "kaisya", "kaisha"}},
	{CategoryPricing, []string{"pricing", "price", "plan", "fee", "ryokin", "cost"}},
	{CategoryFAQ, []string{"faq", "question", "help"}},
	{CategoryContact, []string{"contact", "inquiry", "toiawase"}},
	{CategoryCaseStudies, []string{"case", "works", "customer", "example", "jirei", "voice", "results"}},
	{CategoryRecruiting, []string{"recruit", "career", "jobs", "saiyo", "hiring"}},
	{CategoryNews, []string{"news", "press", "topics", "blog", "info", "column"}},
	{CategoryAccess, []string{"access", "map", "location"}},
	{CategoryServices, []string{"service", "product", "solution", "business", "feature", "function"}},
}

// Category maps a page URL to a coarse category using path keywords.
func Category(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CategoryGeneral
	}
	p := strings.ToLower(strings.Trim(u.Path, "/"))
	if p == "" || p == "index.html" || p == "index.php" {
		return CategoryTop
	}
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(p, kw) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}
