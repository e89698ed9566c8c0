package headless

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/extract"
)

// navSelector matches clickable elements inside navigation regions.
const navSelector = `nav a, nav button, header a, header button, ` +
	`[role="navigation"] a, [role="navigation"] button, [role="menu"] a, [role="menuitem"], ` +
	`.menu a, .nav a, .navbar a, .gnav a, .global-nav a, #menu a, #nav a`

// navFilter drops elements whose click would leave the site or end a session.
const navFilter = `(el) => {
	const href = (el.getAttribute('href') || '').trim().toLowerCase();
	const label = ((el.innerText || '') + ' ' + (el.getAttribute('aria-label') || '')).toLowerCase();
	if (href.startsWith('mailto:') || href.startsWith('tel:') || href.startsWith('javascript:')) return false;
	if (href === '#' || (href.startsWith('#') && href.length > 1)) return false;
	if (/log\s*out|sign\s*out|log\s*in|sign\s*in|login|logout|ログイン|ログアウト/.test(label + ' ' + href)) return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 || rect.height > 0 || el.offsetParent !== null;
}`

var (
	countNavScript = fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).filter(%s).length`, navSelector, navFilter)
	textPrefixScript = `(document.body ? document.body.innerText : '').slice(0, %d)`
)

func clickNavScript(index int) string {
	return fmt.Sprintf(`(() => {
	const els = Array.from(document.querySelectorAll(%q)).filter(%s);
	const el = els[%d];
	if (!el) return false;
	el.click();
	return true;
})()`, navSelector, navFilter, index)
}

// Explore loads rootURL, clicks each navigation element in turn and collects
// same-origin links from every distinct DOM snapshot, plus the locations the
// clicks lead to. Snapshots whose leading text matches an earlier one are skipped.
func (b *Browser) Explore(ctx context.Context, rootURL string) ([]crawler.Link, error) {
	base, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tabCtx, done, err := b.tab(ctx, b.cfg.ExploreTimeout)
	if err != nil {
		return nil, err
	}
	defer done()

	idle := newNetworkIdle()
	chromedp.ListenTarget(tabCtx, idle.captureEvent)

	if err := b.load(tabCtx, idle, rootURL); err != nil {
		return nil, err
	}

	links := newLinkSet()
	seen := make(map[string]struct{})
	if _, err := b.snapshot(tabCtx, base, links, seen); err != nil {
		return nil, err
	}

	var count int
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(countNavScript, &count)); err != nil {
		return links.items, nil
	}
	if count > b.cfg.MaxClicks {
		count = b.cfg.MaxClicks
	}

	for i := 0; i < count; i++ {
		if tabCtx.Err() != nil {
			break
		}
		if err := b.clickAndSnapshot(tabCtx, idle, base, rootURL, i, links, seen); err != nil {
			b.logger.Debug("nav click skipped", zap.Int("index", i), zap.Error(err))
		}
	}
	b.logger.Debug("navigation explored",
		zap.String("url", rootURL),
		zap.Int("clicks", count),
		zap.Int("snapshots", len(seen)),
		zap.Int("links", len(links.items)),
	)
	return links.items, nil
}

func (b *Browser) load(ctx context.Context, idle *networkIdle, target string) error {
	err := chromedp.Run(ctx,
		b.networkSetupAction(),
		chromedp.Navigate(target),
		b.waitSettled(idle),
	)
	if err != nil {
		return fmt.Errorf("load %s: %w", target, err)
	}
	return nil
}

func (b *Browser) clickAndSnapshot(
	ctx context.Context,
	idle *networkIdle,
	base *url.URL,
	rootURL string,
	index int,
	links *linkSet,
	seen map[string]struct{},
) error {
	// Each click starts from the root page so element indexes stay stable.
	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		return fmt.Errorf("read location: %w", err)
	}
	if !sameDocument(location, rootURL) {
		if err := b.load(ctx, idle, rootURL); err != nil {
			return err
		}
	}

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(clickNavScript(index), &clicked)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	if !clicked {
		return nil
	}
	// Give client-side routers a moment before waiting on the network.
	if err := chromedp.Run(ctx, chromedp.Sleep(200*time.Millisecond), b.waitSettled(idle)); err != nil {
		return fmt.Errorf("settle after click: %w", err)
	}
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err == nil {
		if abs, ok := crawler.Resolve(base, location); ok {
			if target, err := url.Parse(abs); err == nil && crawler.SameOrigin(base, target) && !crawler.IsAsset(abs) {
				links.add(crawler.Link{URL: abs})
			}
		}
	}
	_, err := b.snapshot(ctx, base, links, seen)
	return err
}

// snapshot records the links of the current DOM unless its text prefix was
// already seen. It reports whether the snapshot was new.
func (b *Browser) snapshot(ctx context.Context, base *url.URL, links *linkSet, seen map[string]struct{}) (bool, error) {
	var prefix, html string
	err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(textPrefixScript, b.cfg.SnapshotPrefix), &prefix),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return false, fmt.Errorf("snapshot: %w", err)
	}
	key := b.snapshotKey(prefix)
	if _, dup := seen[key]; dup {
		return false, nil
	}
	seen[key] = struct{}{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true, fmt.Errorf("parse snapshot: %w", err)
	}
	for _, link := range extract.Links(doc.Selection, base) {
		links.add(link)
	}
	return true, nil
}

func (b *Browser) snapshotKey(prefix string) string {
	normalized := strings.Join(strings.Fields(prefix), " ")
	if b.hasher == nil {
		return normalized
	}
	digest, err := b.hasher.Hash([]byte(normalized))
	if err != nil {
		return normalized
	}
	return digest
}

func sameDocument(a, b string) bool {
	na, errA := crawler.NormalizeURL(a)
	nb, errB := crawler.NormalizeURL(b)
	return errA == nil && errB == nil && na == nb
}

type linkSet struct {
	items []crawler.Link
	seen  map[string]struct{}
}

func newLinkSet() *linkSet {
	return &linkSet{seen: make(map[string]struct{})}
}

func (s *linkSet) add(link crawler.Link) {
	if _, ok := s.seen[link.URL]; ok {
		return
	}
	s.seen[link.URL] = struct{}{}
	s.items = append(s.items, link)
}
