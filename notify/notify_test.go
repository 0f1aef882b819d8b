package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsNotification(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL)
	require.NoError(t, err)

	err = wh.Notify(context.Background(), "node down", "n1 stopped responding", UrgencyCritical)
	require.NoError(t, err)
	assert.Equal(t, "node down", got["title"])
	assert.Equal(t, string(UrgencyCritical), got["urgency"])
}

func TestWebhookRejectsEmptyURL(t *testing.T) {
	_, err := NewWebhook("")
	assert.Error(t, err)
}

func TestWebhookErrorStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL)
	require.NoError(t, err)

	assert.Error(t, wh.Notify(context.Background(), "t", "m", UrgencyLow))
}

type failingSink struct{}

func (failingSink) Notify(context.Context, string, string, Urgency) error {
	return fmt.Errorf("sink unavailable")
}

func TestBestEffortSwallowsFailures(t *testing.T) {
	be := NewBestEffort(failingSink{}, slog.Default())
	assert.NoError(t, be.Notify(context.Background(), "t", "m", UrgencyNormal))
}

func TestBestEffortNilSinkIsNop(t *testing.T) {
	be := NewBestEffort(nil, slog.Default())
	assert.NoError(t, be.Notify(context.Background(), "t", "m", UrgencyNormal))
}
