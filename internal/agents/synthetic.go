package agents

import (
	"context"
	"time"

	"github.com/edgefuse/fal/internal/uer"
)

// SyntheticSource emits generated events at a fixed cadence. It stands
// in for a live protocol tap on sites where none is attached yet and
// keeps the whole edge pipeline exercisable end to end.
type SyntheticSource struct {
	interval time.Duration
	gen      func() uer.RawEvent
}

func NewSyntheticSource(interval time.Duration, gen func() uer.RawEvent) *SyntheticSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &SyntheticSource{interval: interval, gen: gen}
}

func (s *SyntheticSource) Next(ctx context.Context) (uer.RawEvent, error) {
	select {
	case <-ctx.Done():
		return uer.RawEvent{}, ctx.Err()
	case <-time.After(s.interval):
		return s.gen(), nil
	}
}

func (s *SyntheticSource) Close() error { return nil }
