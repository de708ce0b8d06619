package correlator

import (
	"sync"
	"time"

	"github.com/edgefuse/fal/internal/uer"
)

// WindowKey identifies one tumbling window: all records of a tenant
// whose event time falls in [Start, Start+size).
type WindowKey struct {
	Tenant string
	Start  time.Time
}

// Windows buffers records into tumbling windows by event time. A
// record arriving after its window would have closed simply opens the
// window late; the next sweep collects it.
type Windows struct {
	mu   sync.Mutex
	size time.Duration
	open map[WindowKey][]*uer.Record
}

// NewWindows creates a window buffer with the given tumbling size.
func NewWindows(size time.Duration) *Windows {
	return &Windows{size: size, open: make(map[WindowKey][]*uer.Record)}
}

// Add files a record under its tenant and event-time window. Records
// with an unparseable timestamp are rejected.
func (w *Windows) Add(rec *uer.Record) error {
	ts, err := rec.Time()
	if err != nil {
		return err
	}
	key := WindowKey{Tenant: rec.Tenant, Start: ts.UTC().Truncate(w.size)}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.open[key] = append(w.open[key], rec)
	return nil
}

// Due removes and returns every window that has fully elapsed at now.
func (w *Windows) Due(now time.Time) map[WindowKey][]*uer.Record {
	w.mu.Lock()
	defer w.mu.Unlock()

	due := make(map[WindowKey][]*uer.Record)
	for key, recs := range w.open {
		if !now.Before(key.Start.Add(w.size)) {
			due[key] = recs
			delete(w.open, key)
		}
	}
	return due
}

// Open reports how many windows are currently buffering.
func (w *Windows) Open() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.open)
}
