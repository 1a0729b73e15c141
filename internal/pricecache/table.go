package pricecache

import (
	"sync"
	"time"

	"exgateway/pkg/binance"
)

type entry struct {
	ticker    binance.TickerPrice
	updatedAt time.Time
}

// Table is the process-local price snapshot: segment → symbol → latest
// observed ticker. Both feeds write through it, so a reader always sees the
// most recently observed value per symbol regardless of source.
type Table struct {
	mu   sync.RWMutex
	data map[binance.Segment]map[string]entry
}

func NewTable() *Table {
	return &Table{
		data: make(map[binance.Segment]map[string]entry),
	}
}

// Merge upserts the given tickers into a segment. Symbols absent from the
// update keep their previous value: stream updates are deltas, never a full
// table.
func (t *Table) Merge(seg binance.Segment, tickers []binance.TickerPrice, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.data[seg]
	if m == nil {
		m = make(map[string]entry, len(tickers))
		t.data[seg] = m
	}
	for _, ticker := range tickers {
		m[ticker.Symbol] = entry{ticker: ticker, updatedAt: at}
	}
}

// Replace swaps a segment's whole table for the given tickers. Used by the
// HTTP poll, which always delivers the complete segment.
func (t *Table) Replace(seg binance.Segment, tickers []binance.TickerPrice, at time.Time) {
	m := make(map[string]entry, len(tickers))
	for _, ticker := range tickers {
		m[ticker.Symbol] = entry{ticker: ticker, updatedAt: at}
	}

	t.mu.Lock()
	t.data[seg] = m
	t.mu.Unlock()
}

// Get returns the latest ticker for a symbol together with the time it was
// last observed.
func (t *Table) Get(seg binance.Segment, symbol string) (binance.TickerPrice, time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.data[seg][symbol]
	if !ok {
		return binance.TickerPrice{}, time.Time{}, false
	}
	return e.ticker, e.updatedAt, true
}

// Len reports how many symbols a segment currently holds.
func (t *Table) Len(seg binance.Segment) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data[seg])
}
