package registry

import (
	"sort"

	"github.com/stockpulse/streamcore/pkg/models"
)

// Registry reference-counts ticker interest across independent consumers
// and computes the minimal diff of tickers to attach/detach upstream.
//
// Consumers always declare their FULL current interest set; the registry
// diffs it against the previously recorded set. That makes redeclaring the
// same set a no-op and resolves the teardown-and-recreate race: a late
// "unsubscribe everything" from a dead consumer instance cannot undercount
// a ticker the new instance already re-declared, because each consumer ID
// owns exactly one set at a time.
//
// The registry is owned by the dispatcher loop and does no locking itself.
type Registry struct {
	interests map[string]map[string]bool // consumerID -> ticker set
	refcounts map[string]int             // ticker -> number of interested consumers
}

func New() *Registry {
	return &Registry{
		interests: make(map[string]map[string]bool),
		refcounts: make(map[string]int),
	}
}

// SetInterest replaces the consumer's interest set and returns the tickers
// that crossed 0->1 (newly needed upstream) and those that crossed ->0
// (no longer needed). Tickers are case-normalized; unknown removals are no-ops.
func (r *Registry) SetInterest(consumerID string, tickers []string) (added, removed []string) {
	next := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		if n := models.NormalizeTicker(t); n != "" {
			next[n] = true
		}
	}

	prev := r.interests[consumerID]

	for t := range next {
		if prev[t] {
			continue
		}
		r.refcounts[t]++
		if r.refcounts[t] == 1 {
			added = append(added, t)
		}
	}

	for t := range prev {
		if next[t] {
			continue
		}
		r.refcounts[t]--
		if r.refcounts[t] <= 0 {
			delete(r.refcounts, t)
			removed = append(removed, t)
		}
	}

	if len(next) == 0 {
		delete(r.interests, consumerID)
	} else {
		r.interests[consumerID] = next
	}

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Drop clears the consumer's interest entirely (teardown path).
func (r *Registry) Drop(consumerID string) (removed []string) {
	_, removed = r.SetInterest(consumerID, nil)
	return removed
}

// Interest returns the consumer's current interest set.
func (r *Registry) Interest(consumerID string) []string {
	set := r.interests[consumerID]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ActiveSet returns every ticker with refcount > 0. This is the replay
// source for resubscribe-all after a reconnect.
func (r *Registry) ActiveSet() []string {
	out := make([]string, 0, len(r.refcounts))
	for t := range r.refcounts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Refcount reports how many consumers currently claim interest in the ticker.
func (r *Registry) Refcount(ticker string) int {
	return r.refcounts[models.NormalizeTicker(ticker)]
}
