package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supply_agent/internal/core"
	"supply_agent/pkg/logging"
)

type recordingChannel struct {
	mu   sync.Mutex
	name string
	sent []Payload
	err  error
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(ctx context.Context, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
	return r.err
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingChannel) last() Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func testLogger(t *testing.T) core.ILogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

func TestNotifierFansOut(t *testing.T) {
	n := NewNotifier(testLogger(t))
	ch1 := &recordingChannel{name: "one"}
	ch2 := &recordingChannel{name: "two"}
	n.AddChannel(ch1)
	n.AddChannel(ch2)

	n.Notify(context.Background(), "Order needs approval", "SKU-1: 120 units", Warning,
		map[string]string{"sku": "SKU-1"})

	require.Eventually(t, func() bool {
		return ch1.count() == 1 && ch2.count() == 1
	}, time.Second, 5*time.Millisecond)

	p := ch1.last()
	assert.Equal(t, "Order needs approval", p.Title)
	assert.Equal(t, Warning, p.Level)
	assert.Equal(t, "SKU-1", p.Fields["sku"])
	assert.False(t, p.Timestamp.IsZero())
}

func TestNotifierSurvivesFailingChannel(t *testing.T) {
	n := NewNotifier(testLogger(t))
	bad := &recordingChannel{name: "bad", err: errors.New("downstream down")}
	good := &recordingChannel{name: "good"}
	n.AddChannel(bad)
	n.AddChannel(good)

	n.Notify(context.Background(), "Cycle failed", "stage fetch failed", Critical, nil)

	require.Eventually(t, func() bool {
		return good.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLevelForUrgency(t *testing.T) {
	assert.Equal(t, Critical, LevelForUrgency(core.UrgencyCritical))
	assert.Equal(t, Warning, LevelForUrgency(core.UrgencyHigh))
	assert.Equal(t, Info, LevelForUrgency(core.UrgencyMedium))
	assert.Equal(t, Info, LevelForUrgency(core.UrgencyLow))
}

func TestSlackChannelPostsAttachment(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{
		Level:     Critical,
		Title:     "Reorder placed",
		Message:   "SKU-9: 40 units",
		Timestamp: time.Now().UTC(),
		Fields:    map[string]string{"urgency": "Critical"},
	})
	require.NoError(t, err)

	attachments := got["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]interface{})
	assert.Equal(t, "#8b0000", first["color"])
	assert.Contains(t, first["pretext"], "Reorder placed")
}

func TestSlackChannelEmptyURLIsNoop(t *testing.T) {
	ch := NewSlackChannel("")
	assert.NoError(t, ch.Send(context.Background(), Payload{Title: "x"}))
}

func TestSlackChannelSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTelegramChannelSendsMessage(t *testing.T) {
	var gotPath string
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	ch := NewTelegramChannel("bot-token", "chat-42")
	ch.baseURL = srv.URL

	err := ch.Send(context.Background(), Payload{
		Level:   Warning,
		Title:   "Order needs approval",
		Message: "SKU-1: cost 1567.02 exceeds the auto approval threshold",
		Fields:  map[string]string{"sku": "SKU-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-42", got["chat_id"])
	assert.Contains(t, got["text"], "Order needs approval")
	assert.Contains(t, got["text"], "SKU-1")
}

func TestTelegramChannelMissingCredentialIsNoop(t *testing.T) {
	ch := NewTelegramChannel("", "")
	assert.NoError(t, ch.Send(context.Background(), Payload{Title: "x"}))
}
