package bus

import (
	"context"

	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, ev realtime.Event) error
	// Subscribe delivers events to onEvent from a background goroutine until
	// ctx is done. It returns once the subscription is confirmed.
	Subscribe(ctx context.Context, onEvent func(realtime.Event)) error
	Close() error
}
