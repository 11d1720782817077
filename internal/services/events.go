package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"examprep-backend/internal/models"
)

// Session event types pushed to realtime clients.
const (
	EventSessionCreated  = "session_created"
	EventSessionPaused   = "session_paused"
	EventSessionResumed  = "session_resumed"
	EventSessionFinished = "session_finished"
	EventProgress        = "session_progress"
	EventFlagToggled     = "flag_toggled"
	EventNoteSaved       = "note_saved"
	EventNoteRemoved     = "note_removed"
)

type EventPublisher interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

type RedisEventPublisher struct {
	redis *redis.Client
}

func NewRedisEventPublisher(redisClient *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{redis: redisClient}
}

func (p *RedisEventPublisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, models.SessionEventChannel(userID), string(data)).Err()
}

// NopEventPublisher is used when no Redis is configured.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishUpdate(context.Context, uuid.UUID, models.WSMessage) error { return nil }
