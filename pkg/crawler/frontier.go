package crawler

import (
	"sync"

	"github.com/sirupsen/logrus"

	"site-auditor/pkg/models"
	"site-auditor/pkg/queue"
)

// Frontier owns the crawl's shared state: the visited set, the ordered
// discovery record, and the work queue. Enqueue performs the visited check,
// the budget check, the discovery append, and the queue push in one critical
// section, so a URL can never be admitted twice and the budget can never be
// overshot by racing workers.
//
// Dispatch is level-synchronized: items admitted deeper than the level
// currently being processed are held back until every task at that level has
// completed. All admissions for depth d+1 therefore happen before any d+1
// item is popped, which keeps each recorded depth equal to the shortest path
// the crawl observed regardless of fetch timing.
type Frontier struct {
	mu         sync.Mutex
	visited    map[string]struct{}
	discovered []models.DiscoveredURL
	released   int                // handed to the queue, not yet done
	level      int                // deepest depth currently dispatchable
	held       []*models.WorkItem // admitted beyond level, awaiting release
	budgetHit  bool               // max URLs reached at some enqueue attempt
	maxURLs    int                // 0 = unlimited
	queue      *queue.FrontierQueue
	log        *logrus.Entry
}

// NewFrontier creates a frontier with the given discovery budget.
func NewFrontier(maxURLs int, q *queue.FrontierQueue, log *logrus.Entry) *Frontier {
	return &Frontier{
		visited: make(map[string]struct{}),
		maxURLs: maxURLs,
		queue:   q,
		log:     log,
	}
}

// Enqueue admits a normalized URL at the given depth. Returns false when the
// URL was already visited or the budget is exhausted. On admission the URL is
// recorded in the discovery list and either pushed onto the work queue or,
// when it lies beyond the current level, held for the next one.
func (f *Frontier) Enqueue(normalizedURL string, depth int, method models.DiscoveryMethod, source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.visited[normalizedURL]; seen {
		return false
	}
	if f.maxURLs > 0 && len(f.discovered) >= f.maxURLs {
		if !f.budgetHit {
			f.budgetHit = true
			f.log.WithFields(logrus.Fields{"max_urls": f.maxURLs}).Info("URL budget reached, no further admissions")
		}
		return false
	}

	f.visited[normalizedURL] = struct{}{}
	f.discovered = append(f.discovered, models.DiscoveredURL{
		URL:    normalizedURL,
		Depth:  depth,
		Method: method,
		Source: source,
	})

	item := &models.WorkItem{URL: normalizedURL, Depth: depth}
	if depth <= f.level {
		f.released++
		f.queue.Add(item)
	} else {
		f.held = append(f.held, item)
	}
	return true
}

// TaskDone marks one released URL as fully processed. When the last task of
// the current level finishes, the held next-level items are released; when
// nothing is held either, the queue is closed and idle workers drain out.
func (f *Frontier) TaskDone() {
	f.mu.Lock()
	f.released--
	if f.released > 0 {
		f.mu.Unlock()
		return
	}
	if len(f.held) > 0 {
		f.advanceLevel()
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.queue.Close()
}

// advanceLevel releases every held item at the next shallowest depth.
// Caller holds f.mu.
func (f *Frontier) advanceLevel() {
	next := f.held[0].Depth
	for _, item := range f.held[1:] {
		if item.Depth < next {
			next = item.Depth
		}
	}
	f.level = next

	var still []*models.WorkItem
	for _, item := range f.held {
		if item.Depth <= next {
			f.released++
			f.queue.Add(item)
		} else {
			still = append(still, item)
		}
	}
	f.held = still
	f.log.WithFields(logrus.Fields{"level": next, "released": f.released}).Debug("Frontier advanced to next depth")
}

// Discovered returns a copy of the discovery record in admission order.
func (f *Frontier) Discovered() []models.DiscoveredURL {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DiscoveredURL, len(f.discovered))
	copy(out, f.discovered)
	return out
}

// BudgetHit reports whether any enqueue attempt was rejected by the budget.
func (f *Frontier) BudgetHit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.budgetHit
}

// VisitedCount returns the number of admitted URLs.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}
