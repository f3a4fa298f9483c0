package cache

import "sync/atomic"

// OpenBudget is the process-wide count of open regular-file descriptors held
// through the cache layer. One instance is shared by every export in the
// process; it starts at zero and is never reset.
//
// The counter only reflects delegate-level opens performed by the I/O
// orchestrator: it is incremented on every CLOSED-to-OPEN transition and
// decremented on every transition back to CLOSED, including the implicit
// close taken when a re-open downgrade fails.
//
// Known scalability bottleneck: a single shared counter serializes nothing
// but still bounces a cache line across cores under load. Sharding it per
// export would relax that at the cost of a fuzzier global limit.
type OpenBudget struct {
	limit int64
	count atomic.Int64
}

// NewOpenBudget builds a budget with the given cap on concurrently open
// files. A limit of zero or below means unlimited.
func NewOpenBudget(limit int64) *OpenBudget {
	return &OpenBudget{limit: limit}
}

// TryAcquire reserves one open slot. Returns false without blocking when the
// budget is exhausted; callers surface that as a delay status so the client
// retries later. The reserve is a compare-and-swap so racing openers can
// never push the count past the limit.
func (b *OpenBudget) TryAcquire() bool {
	if b.limit <= 0 {
		b.count.Add(1)
		return true
	}
	for {
		cur := b.count.Load()
		if cur >= b.limit {
			return false
		}
		if b.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one open slot.
func (b *OpenBudget) Release() {
	b.count.Add(-1)
}

// InUse returns the current number of reserved slots.
func (b *OpenBudget) InUse() int64 {
	return b.count.Load()
}

// Limit returns the configured cap (zero or below means unlimited).
func (b *OpenBudget) Limit() int64 {
	return b.limit
}
