// Package mirror forwards newly discovered listings to external systems: a
// Google Sheets worksheet, an S3 archive and a RabbitMQ exchange.
package mirror

import (
	"context"
	"errors"

	"homeus/models"
)

// Sink receives listings the store has just recorded as new.
type Sink interface {
	AppendOne(ctx context.Context, l *models.Listing) error
	AppendBatch(ctx context.Context, listings []models.Listing) error
	Close() error
}

// Resetter is implemented by sinks that can clear their contents before a
// full re-export.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Multi fans every call out to all of its sinks and joins their errors.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) AppendOne(ctx context.Context, l *models.Listing) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.AppendOne(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) AppendBatch(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.AppendBatch(ctx, listings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Reset(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if r, ok := s.(Resetter); ok {
			if err := r.Reset(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
