package alert

import (
	"context"
	"errors"
	"sync"
)

// MultiSink fans an event out to every configured sink. One failing sink
// never blocks the others; errors are joined for the caller to log.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that fans out to the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Add adds a sink to the fan-out list.
func (m *MultiSink) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Publish implements Sink.
func (m *MultiSink) Publish(ctx context.Context, ev Event) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, s := range m.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := sink.Publish(ctx, ev); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Compile-time interface check.
var _ Sink = (*MultiSink)(nil)
