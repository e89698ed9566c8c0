// Package frontier keeps the per-run visited set and a three-tier priority
// queue of URLs waiting to be crawled.
package frontier

import (
	"container/heap"
	"net/url"
	"strings"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// DefaultCriticalPaths are attempted on every site even when unlinked.
var DefaultCriticalPaths = []string{
	"/about",
	"/about-us",
	"/company",
	"/company/overview",
	"/company/profile",
	"/corporate",
	"/service",
	"/services",
}

// DefaultPriorityPaths are business-relevant pages queued ahead of ordinary links.
var DefaultPriorityPaths = []string{
	"/products",
	"/solutions",
	"/features",
	"/pricing",
	"/price",
	"/plan",
	"/faq",
	"/contact",
	"/case",
	"/case-studies",
	"/works",
	"/customers",
	"/voice",
	"/recruit",
	"/careers",
	"/news",
	"/access",
	"/company/message",
	"/company/history",
	"/flow",
	"/support",
}

// Config tunes tier classification.
type Config struct {
	CriticalPaths []string
	PriorityPaths []string
}

// Frontier is not safe for concurrent use; the scheduler touches it only
// between fetch batches.
type Frontier struct {
	queue    taskHeap
	queued   map[string]*entry
	visited  map[string]struct{}
	order    []string
	seq      int64
	critical int

	criticalPaths map[string]struct{}
	priorityPaths []string
	seedCritical  []string
	seedPriority  []string
}

type entry struct {
	task  crawler.CrawlTask
	seq   int64
	index int
}

// New creates an empty Frontier.
func New(cfg Config) *Frontier {
	if cfg.CriticalPaths == nil {
		cfg.CriticalPaths = DefaultCriticalPaths
	}
	if cfg.PriorityPaths == nil {
		cfg.PriorityPaths = DefaultPriorityPaths
	}
	f := &Frontier{
		queued:        make(map[string]*entry),
		visited:       make(map[string]struct{}),
		criticalPaths: make(map[string]struct{}, len(cfg.CriticalPaths)),
	}
	for _, p := range cfg.CriticalPaths {
		p = cleanPath(p)
		f.criticalPaths[p] = struct{}{}
		f.seedCritical = append(f.seedCritical, p)
	}
	for _, p := range cfg.PriorityPaths {
		p = cleanPath(p)
		f.priorityPaths = append(f.priorityPaths, p)
		f.seedPriority = append(f.seedPriority, p)
	}
	return f
}

// Push enqueues rawURL at tier. Visited URLs are ignored; a URL already
// queued at a lower priority is promoted and re-sequenced. It reports whether
// the frontier changed.
func (f *Frontier) Push(rawURL string, tier crawler.Tier) bool {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if _, done := f.visited[normalized]; done {
		return false
	}
	f.seq++
	if existing, ok := f.queued[normalized]; ok {
		if existing.task.Tier <= tier {
			return false
		}
		f.adjustCritical(existing.task.Tier, -1)
		existing.task.Tier = tier
		existing.seq = f.seq
		f.adjustCritical(tier, 1)
		heap.Fix(&f.queue, existing.index)
		return true
	}
	e := &entry{task: crawler.CrawlTask{URL: normalized, Tier: tier}, seq: f.seq}
	heap.Push(&f.queue, e)
	f.queued[normalized] = e
	f.adjustCritical(tier, 1)
	return true
}

// PushLink enqueues a discovered link at the tier its path earns.
func (f *Frontier) PushLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return f.Push(rawURL, f.Classify(u))
}

// Pop removes the highest-priority task that has not been visited yet.
func (f *Frontier) Pop() (crawler.CrawlTask, bool) {
	for f.queue.Len() > 0 {
		e, _ := heap.Pop(&f.queue).(*entry)
		delete(f.queued, e.task.URL)
		f.adjustCritical(e.task.Tier, -1)
		if _, done := f.visited[e.task.URL]; done {
			continue
		}
		return e.task, true
	}
	return crawler.CrawlTask{}, false
}

// MarkVisited records url as fetched. It reports false if it was already visited.
func (f *Frontier) MarkVisited(rawURL string) bool {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if _, done := f.visited[normalized]; done {
		return false
	}
	f.visited[normalized] = struct{}{}
	f.order = append(f.order, normalized)
	if e, ok := f.queued[normalized]; ok {
		heap.Remove(&f.queue, e.index)
		delete(f.queued, normalized)
		f.adjustCritical(e.task.Tier, -1)
	}
	return true
}

// IsVisited reports whether url was already fetched in this run.
func (f *Frontier) IsVisited(rawURL string) bool {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	_, ok := f.visited[normalized]
	return ok
}

// Len is the number of queued tasks.
func (f *Frontier) Len() int {
	return f.queue.Len()
}

// VisitedCount is the number of URLs fetched so far.
func (f *Frontier) VisitedCount() int {
	return len(f.order)
}

// Visited returns visited URLs in visit order.
func (f *Frontier) Visited() []string {
	return append([]string(nil), f.order...)
}

// HasPendingCritical reports whether a critical task is still queued.
func (f *Frontier) HasPendingCritical() bool {
	return f.critical > 0
}

// Classify returns the tier a URL earns from its path. Only the configured
// path lists decide the tier.
func (f *Frontier) Classify(u *url.URL) crawler.Tier {
	p := cleanPath(u.Path)
	if _, ok := f.criticalPaths[p]; ok {
		return crawler.TierCritical
	}
	for _, prefix := range f.priorityPaths {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return crawler.TierPriority
		}
	}
	return crawler.TierNormal
}

// InjectSeeds queues the configured critical and priority paths against the
// origin of root, in list order.
func (f *Frontier) InjectSeeds(root *url.URL) {
	origin := crawler.Origin(root)
	for _, p := range f.seedCritical {
		f.Push(origin+p, crawler.TierCritical)
	}
	for _, p := range f.seedPriority {
		f.Push(origin+p, crawler.TierPriority)
	}
}

func (f *Frontier) adjustCritical(tier crawler.Tier, delta int) {
	if tier == crawler.TierCritical {
		f.critical += delta
	}
}

func cleanPath(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Tier != h[j].task.Tier {
		return h[i].task.Tier < h[j].task.Tier
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e, _ := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
