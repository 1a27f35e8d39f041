// Package book maintains an in-memory replica of one symbol's depth ladder,
// reconstructed from an exchange snapshot plus incremental deltas. Correctness
// under out-of-order delivery hinges on the sequence cursor: every applied
// delta must cover the range immediately following the cursor.
package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
)

// ApplyResult classifies the outcome of applying a delta to the replica.
type ApplyResult int

const (
	// Applied means the delta mutated the book and advanced the cursor.
	Applied ApplyResult = iota
	// Stale means the delta's range was entirely at or before the cursor;
	// the book was not touched.
	Stale
	// GapDetected means a delta was missed. The replica is desynchronized
	// and the caller must obtain a fresh snapshot before applying further
	// deltas.
	GapDetected
)

// String returns the result name for logging.
func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case GapDetected:
		return "gap_detected"
	default:
		return "unknown"
	}
}

// Replica is the locally consistent view of one symbol's order book. The feed
// goroutine is the only writer; readers take value copies under RLock.
type Replica struct {
	mu     sync.RWMutex
	symbol string
	bids   []domain.PriceLevel // descending by price
	asks   []domain.PriceLevel // ascending by price
	cursor uint64
	synced bool
}

// NewReplica creates an empty, unsynced replica for the given symbol.
func NewReplica(symbol string) *Replica {
	return &Replica{symbol: symbol}
}

// Symbol returns the symbol this replica tracks.
func (r *Replica) Symbol() string {
	return r.symbol
}

// ApplySnapshot unconditionally replaces both sides and resets the cursor to
// the snapshot's sequence. Applying the same snapshot twice yields an
// identical replica.
func (r *Replica) ApplySnapshot(evt domain.SnapshotEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = sortSide(evt.Bids, true)
	r.asks = sortSide(evt.Asks, false)
	r.cursor = evt.Seq
	r.synced = true
}

// ApplyDelta applies an incremental update. It returns Stale for a delta
// entirely at or before the cursor, GapDetected when the delta's start is
// beyond cursor+1 (the book is left untouched and marked desynced), and
// Applied otherwise, advancing the cursor to FinalSeq.
func (r *Replica) ApplyDelta(evt domain.DeltaEvent) ApplyResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if evt.FinalSeq <= r.cursor {
		return Stale
	}
	if evt.FirstSeq > r.cursor+1 {
		r.synced = false
		return GapDetected
	}

	for _, ch := range evt.BidChanges {
		r.bids = upsertLevel(r.bids, ch, true)
	}
	for _, ch := range evt.AskChanges {
		r.asks = upsertLevel(r.asks, ch, false)
	}
	r.cursor = evt.FinalSeq
	return Applied
}

// BestBid returns the highest bid. ok is false when the side is empty — a
// price of zero is never used as a sentinel.
func (r *Replica) BestBid() (domain.PriceLevel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bids) == 0 {
		return domain.PriceLevel{}, false
	}
	return r.bids[0], true
}

// BestAsk returns the lowest ask. ok is false when the side is empty.
func (r *Replica) BestAsk() (domain.PriceLevel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.asks) == 0 {
		return domain.PriceLevel{}, false
	}
	return r.asks[0], true
}

// MidPrice returns (bestBid+bestAsk)/2, or ErrNoMarket when either side is
// empty.
func (r *Replica) MidPrice() (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bids) == 0 || len(r.asks) == 0 {
		return decimal.Decimal{}, domain.ErrNoMarket
	}
	two := decimal.NewFromInt(2)
	return r.bids[0].Price.Add(r.asks[0].Price).Div(two), nil
}

// TopLevels returns value copies of up to depth levels per side.
func (r *Replica) TopLevels(depth int) (bids, asks []domain.PriceLevel) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nb := depth
	if nb > len(r.bids) {
		nb = len(r.bids)
	}
	na := depth
	if na > len(r.asks) {
		na = len(r.asks)
	}
	bids = make([]domain.PriceLevel, nb)
	asks = make([]domain.PriceLevel, na)
	copy(bids, r.bids[:nb])
	copy(asks, r.asks[:na])
	return bids, asks
}

// Cursor returns the sequence of the last applied event.
func (r *Replica) Cursor() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor
}

// Synced reports whether the replica is in sync with the feed. It turns false
// on a detected gap and true again after the next snapshot.
func (r *Replica) Synced() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.synced
}

// Desync marks the replica out of sync without touching the book. Used when
// the transport fails mid-stream.
func (r *Replica) Desync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = false
}

// Depth returns the current number of bid and ask levels.
func (r *Replica) Depth() (bidLevels, askLevels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bids), len(r.asks)
}

// upsertLevel inserts, replaces, or removes (quantity zero) a level while
// preserving sort order and price uniqueness.
func upsertLevel(side []domain.PriceLevel, ch domain.PriceLevel, descending bool) []domain.PriceLevel {
	idx := sort.Search(len(side), func(i int) bool {
		cmp := side[i].Price.Cmp(ch.Price)
		if descending {
			return cmp <= 0
		}
		return cmp >= 0
	})

	exists := idx < len(side) && side[idx].Price.Equal(ch.Price)

	if ch.Quantity.IsZero() {
		if exists {
			return append(side[:idx], side[idx+1:]...)
		}
		return side
	}

	if exists {
		side[idx].Quantity = ch.Quantity
		return side
	}

	side = append(side, domain.PriceLevel{})
	copy(side[idx+1:], side[idx:])
	side[idx] = ch
	return side
}

// sortSide copies and sorts snapshot levels, dropping zero-quantity entries.
func sortSide(levels []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Quantity.IsZero() {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.Cmp(out[j].Price) > 0
		}
		return out[i].Price.Cmp(out[j].Price) < 0
	})
	return out
}
