package archive

import (
	"context"
	"errors"
	"fmt"
)

// Sinks fans a save out to several sinks in order. Every sink is attempted;
// the joined error reports each failure.
type Sinks []Sink

// Save implements Sink.
func (s Sinks) Save(ctx context.Context, thread ThreadDoc, posts []PostDoc) error {
	var errs []error
	for i, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Save(ctx, thread, posts); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
