package anamnesis

import (
	"context"
	"time"

	"anamnesis-backend/internal/queue"
)

// QueueDispatcher hands analyses to an external worker process through a
// message queue. Running jobs live in another process, so Cancel only
// reports false; the worker observes cancellation through the stored status.
type QueueDispatcher struct {
	Queue queue.Client
	Now   func() time.Time
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, analysisID string) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return d.Queue.Send(ctx, queue.NewMessage(analysisID, RequestIDFromContext(ctx), now()))
}

func (d *QueueDispatcher) Cancel(string) bool { return false }

var _ Dispatcher = (*QueueDispatcher)(nil)
