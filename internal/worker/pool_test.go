package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examprep-backend/internal/models"
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []string
	err     error
	release chan struct{}
}

func (r *recordingPublisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg.Type)
	return r.err
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestPool_DeliversQueuedEventsBeforeStop(t *testing.T) {
	pub := &recordingPublisher{}
	pool := NewPool(pub, 1, 8, nil)
	pool.Start()

	userID := uuid.New()
	require.NoError(t, pool.PublishUpdate(context.Background(), userID, models.WSMessage{Type: "session_paused"}))
	require.NoError(t, pool.PublishUpdate(context.Background(), userID, models.WSMessage{Type: "session_resumed"}))

	pool.Stop()

	assert.Equal(t, []string{"session_paused", "session_resumed"}, pub.types())
}

func TestPool_RejectsAfterStop(t *testing.T) {
	pool := NewPool(&recordingPublisher{}, 2, 4, nil)
	pool.Start()
	pool.Stop()
	pool.Stop()

	err := pool.PublishUpdate(context.Background(), uuid.New(), models.WSMessage{Type: "session_finished"})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_FullQueueDropsEvent(t *testing.T) {
	pub := &recordingPublisher{release: make(chan struct{})}
	// Workers are not started, so nothing drains the single slot.
	pool := NewPool(pub, 1, 1, nil)

	userID := uuid.New()
	require.NoError(t, pool.PublishUpdate(context.Background(), userID, models.WSMessage{Type: "flag_toggled"}))
	err := pool.PublishUpdate(context.Background(), userID, models.WSMessage{Type: "flag_toggled"})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(pub.release)
	pool.Start()
	pool.Stop()
	assert.Equal(t, []string{"flag_toggled"}, pub.types())
}

func TestPool_DeliveryErrorsAreSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis: connection refused")}
	pool := NewPool(pub, 1, 2, nil)
	pool.Start()

	require.NoError(t, pool.PublishUpdate(context.Background(), uuid.New(), models.WSMessage{Type: "note_saved"}))
	pool.Stop()

	assert.Equal(t, []string{"note_saved"}, pub.types())
}
