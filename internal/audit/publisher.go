package audit

import (
	"context"
	"time"

	"authcore/pkg/oauth2err"
)

// Store is the append-only audit sink.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByClient(ctx context.Context, clientID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	if base.Outcome == "" {
		base.Outcome = "success"
	}
	return p.store.Append(ctx, base)
}

// Outcome renders an operation result as an audit outcome label.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(oauth2err.CategoryOf(err))
}

func (p *Publisher) List(ctx context.Context, clientID string) ([]Event, error) {
	return p.store.ListByClient(ctx, clientID)
}
