package gns3

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/pkg/retry"
)

func fastRetry() retry.Config {
	cfg := retry.Gateway()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, slog.Default(), WithRetryConfig(fastRetry()))
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("", slog.Default())
	assert.Error(t, err)
}

func TestListProjects(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/projects", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"project_id":"p1","name":"lab","status":"opened"}]`))
	}))

	projects, err := c.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "p1", projects[0].ID)
	assert.Equal(t, "lab", projects[0].Name)
}

func TestListNodesValidatesProjectID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := c.ListNodes(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrMissingProjectID)
}

func TestStartNodePostsToStartEndpoint(t *testing.T) {
	var gotPath, gotMethod string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.StartNode(context.Background(), "p1", "n1"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v2/projects/p1/nodes/n1/start", gotPath)
}

func TestNotFoundIsTerminalAndClassified(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	err := c.StartNode(context.Background(), "p1", "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNodeNotFound)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := c.StopNode(context.Background(), "p1", "n1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLinksCarryProjectID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"link_id":"l1","nodes":[{"node_id":"n1","adapter_number":0,"port_number":0},{"node_id":"n2","adapter_number":0,"port_number":1}]}]`))
	}))

	links, err := c.ListLinks(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "p1", links[0].ProjectID)
	assert.Len(t, links[0].Endpoints, 2)
}

func TestNewNetworkStateStartsDisconnected(t *testing.T) {
	state := NewNetworkState()
	assert.Equal(t, ServerDisconnected, state.ServerStatus)
	assert.Empty(t, state.Nodes)
}
