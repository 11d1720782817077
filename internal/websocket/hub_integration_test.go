//go:build integration

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"examprep-backend/internal/models"
)

// Run with: REDIS_URL=redis://localhost:6379 go test -tags integration ./internal/websocket/
func TestHub_RelaysPublishedSessionEvents(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("invalid REDIS_URL: %v", err)
	}
	subscriber := redis.NewClient(opt)
	publisher := redis.NewClient(opt)
	t.Cleanup(func() {
		subscriber.Close()
		publisher.Close()
	})

	userID := uuid.New()
	h := NewHub(subscriber, stubVerifier{userID: userID}, zap.NewNop())
	t.Cleanup(h.Close)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/?token=ok", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	go func() {
		client.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, data, err := client.ReadMessage()
		if err == nil {
			received <- data
		}
	}()

	// The subscription starts asynchronously, so keep publishing until it lands.
	payload := `{"type":"session_finished","payload":{}}`
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case data := <-received:
			if string(data) != payload {
				t.Fatalf("unexpected payload: %s", data)
			}
			return
		case <-ticker.C:
			publisher.Publish(context.Background(), models.SessionEventChannel(userID), payload)
		case <-deadline:
			t.Fatal("no event relayed to the socket")
		}
	}
}
