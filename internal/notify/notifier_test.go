package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelops/internal/config"
)

func testConfig(url string) config.NotifyConfig {
	return config.NotifyConfig{
		WebhookURL:    url,
		Timeout:       2 * time.Second,
		RatePerSecond: 100,
		Burst:         100,
		RetryCount:    0,
		RetryWaitTime: 10 * time.Millisecond,
		RetryMaxWait:  20 * time.Millisecond,
	}
}

func TestDeliversSignedEvents(t *testing.T) {
	var mu sync.Mutex
	var received []Event
	var signatures []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		mu.Lock()
		received = append(received, event)
		signatures = append(signatures, r.Header.Get("X-Signature"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.SigningSecret = "topsecret"
	n := New(cfg, slog.Default())
	n.Start(context.Background())

	n.Publish(context.Background(), "incident.created", "incident", "inc-1", map[string]string{"title": "test"})
	n.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "incident.created", received[0].Type)
	assert.Equal(t, "incident", received[0].EntityType)
	assert.Equal(t, "inc-1", received[0].EntityID)
	assert.NotEmpty(t, signatures[0])
}

func TestSignatureIsDeterministicHMAC(t *testing.T) {
	body := []byte(`{"type":"incident.created"}`)

	first := sign(body, "secret")
	assert.Equal(t, first, sign(body, "secret"))
	assert.NotEqual(t, first, sign(body, "other-secret"))
	assert.Len(t, first, 64)
}

func TestDeliveryDisabledWithoutWebhook(t *testing.T) {
	n := New(testConfig(""), slog.Default())
	n.Start(context.Background())
	n.Publish(context.Background(), "incident.created", "incident", "inc-1", nil)
	n.Stop()

	stats := n.Stats()
	assert.Equal(t, false, stats["enabled"])
	assert.Equal(t, int64(0), stats["sent"])
	assert.Equal(t, int64(0), stats["errors"])
}

func TestPublishNeverBlocksWhenQueueIsFull(t *testing.T) {
	// Worker not started, so the queue only drains on Stop.
	n := New(testConfig(""), slog.Default())

	for i := 0; i < 300; i++ {
		n.Publish(context.Background(), "incident.updated", "incident", "inc-1", nil)
	}

	stats := n.Stats()
	assert.Equal(t, int64(300-256), stats["dropped"])
}

func TestConcurrentPublishAndStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(testConfig(server.URL), slog.Default())
	n.Start(context.Background())

	// Publishers and a stats reader race against the delivery worker; the
	// counters must stay consistent under the race detector.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				n.Publish(context.Background(), "incident.updated", "incident", "inc-1", nil)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = n.Stats()
		}
	}()
	wg.Wait()
	n.Stop()

	stats := n.Stats()
	total := stats["sent"].(int64) + stats["dropped"].(int64)
	assert.Equal(t, int64(80), total)
	assert.Equal(t, int64(0), stats["errors"])
}

func TestErrorResponsesAreCounted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(testConfig(server.URL), slog.Default())
	n.Start(context.Background())
	n.Publish(context.Background(), "bol.matched", "bol_alert", "bol-1", nil)
	n.Stop()

	stats := n.Stats()
	assert.Equal(t, int64(1), stats["errors"])
	assert.Equal(t, int64(0), stats["sent"])
}
