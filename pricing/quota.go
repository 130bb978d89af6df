package pricing

import (
	"sync"
	"time"
)

// DateKey returns the UTC calendar day bucket used for quota bookkeeping.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// quotaLedger tracks free-call usage per payer per UTC day. The date rollover
// is implicit: an entry dated yesterday is reinitialized on the next consume,
// never by a background job.
type quotaLedger struct {
	mu      sync.Mutex
	entries map[string]*quotaEntry
}

type quotaEntry struct {
	mu      sync.Mutex
	dateKey string
	count   uint
}

func newQuotaLedger() *quotaLedger {
	return &quotaLedger{entries: make(map[string]*quotaEntry)}
}

// TryConsume atomically consumes one unit of the payer's quota for the given
// day, reporting whether a unit was available. Consumption is serialized per
// payer so concurrent requests cannot exceed the limit.
func (l *quotaLedger) TryConsume(payer, dateKey string, limit uint) bool {
	if limit == 0 {
		return false
	}

	e := l.entry(payer)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dateKey != dateKey {
		e.dateKey = dateKey
		e.count = 1
		return true
	}
	if e.count < limit {
		e.count++
		return true
	}
	return false
}

// Used returns the payer's consumed count for the given day.
func (l *quotaLedger) Used(payer, dateKey string) uint {
	e := l.entry(payer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dateKey != dateKey {
		return 0
	}
	return e.count
}

func (l *quotaLedger) entry(payer string) *quotaEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[payer]
	if !ok {
		e = &quotaEntry{}
		l.entries[payer] = e
	}
	return e
}
