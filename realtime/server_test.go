package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/gns3"
	"github.com/Iram04hack/network-management-system-sub002/netstate"
)

type fakeState struct {
	topology    *gns3.NetworkState
	topologyErr error
	calls       []string
}

func (f *fakeState) GetCachedTopology(context.Context) (*gns3.NetworkState, error) {
	f.calls = append(f.calls, "topology")
	return f.topology, f.topologyErr
}

func (f *fakeState) StartNode(_ context.Context, projectID, nodeID string) (netstate.ActionResult, error) {
	f.calls = append(f.calls, "start:"+nodeID)
	return netstate.ActionResult{Success: true, NewStatus: gns3.NodeStarted}, nil
}

func (f *fakeState) StopNode(_ context.Context, projectID, nodeID string) (netstate.ActionResult, error) {
	f.calls = append(f.calls, "stop:"+nodeID)
	return netstate.ActionResult{Success: true, NewStatus: gns3.NodeStopped}, nil
}

func (f *fakeState) RestartNode(_ context.Context, projectID, nodeID string) (netstate.RestartResult, error) {
	f.calls = append(f.calls, "restart:"+nodeID)
	return netstate.RestartResult{StartAttempted: true}, nil
}

func newTestServer(t *testing.T, state StateService) (*Server, *websocket.Conn) {
	t.Helper()

	s := NewServer(0, state, slog.Default())
	httpSrv := httptest.NewServer(s.Handler())
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	// Every connection is greeted first.
	greeting := readFrame(t, ws)
	require.Equal(t, frameConnectionEstablished, greeting["type"])
	require.NotEmpty(t, greeting["connection_id"])

	return s, ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func send(t *testing.T, ws *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(msg))
}

func subscribe(t *testing.T, ws *websocket.Conn, categories ...string) {
	t.Helper()
	send(t, ws, map[string]any{"type": ctrlSubscribe, "categories": categories})
	frame := readFrame(t, ws)
	require.Equal(t, frameSubscriptionConfirmed, frame["type"])
}

func TestConnectionEstablishedAndCounted(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubscriptionFiltering(t *testing.T) {
	s, ws := newTestServer(t, nil)
	subscribe(t, ws, "node_status")

	// topology.changed does not match node_status and is silently dropped;
	// node.started does match. Only the latter arrives.
	s.Publish(event.New(event.TypeTopologyChanged, "netstate", map[string]any{"reason": "refresh"}))
	s.Publish(event.New(event.TypeNodeStarted, "netstate", map[string]any{"node_id": "n1"}))

	frame := readFrame(t, ws)
	assert.Equal(t, frameEvent, frame["type"])
	assert.Equal(t, string(event.CategoryNodeStatus), frame["category"])

	ev := frame["event"].(map[string]any)
	assert.Equal(t, string(event.TypeNodeStarted), ev["type"])
}

func TestAllEventsMatchesUnmappedTypes(t *testing.T) {
	s, ws := newTestServer(t, nil)
	subscribe(t, ws, "all_events")

	s.Publish(event.New(event.Type("custom.thing"), "tester", nil))

	frame := readFrame(t, ws)
	assert.Equal(t, frameEvent, frame["type"])
	assert.Equal(t, string(event.CategoryUnmapped), frame["category"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s, ws := newTestServer(t, nil)
	subscribe(t, ws, "node_status", "topology_changes")

	send(t, ws, map[string]any{"type": ctrlUnsubscribe, "categories": []string{"topology_changes"}})
	frame := readFrame(t, ws)
	require.Equal(t, frameSubscriptionConfirmed, frame["type"])
	assert.Len(t, frame["subscriptions"], 1)

	s.Publish(event.New(event.TypeTopologyChanged, "netstate", nil))
	s.Publish(event.New(event.TypeNodeStopped, "netstate", nil))

	got := readFrame(t, ws)
	ev := got["event"].(map[string]any)
	assert.Equal(t, string(event.TypeNodeStopped), ev["type"])
}

func TestPublishToZeroConnectionsIsValid(t *testing.T) {
	s := NewServer(0, nil, slog.Default())
	assert.NotPanics(t, func() {
		s.Publish(event.New(event.TypeNodeStarted, "netstate", nil))
	})
}

func TestDisjointSubscriptionsGetDisjointDeliveries(t *testing.T) {
	s := NewServer(0, nil, slog.Default())
	httpSrv := httptest.NewServer(s.Handler())
	t.Cleanup(httpSrv.Close)
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	dial := func() *websocket.Conn {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { ws.Close() })
		require.Equal(t, frameConnectionEstablished, readFrame(t, ws)["type"])
		return ws
	}

	nodeWatcher := dial()
	projectWatcher := dial()
	subscribe(t, nodeWatcher, "node_status")
	subscribe(t, projectWatcher, "project_events")

	s.Publish(event.New(event.TypeProjectOpened, "netstate", map[string]any{"project_id": "p1"}))
	s.Publish(event.New(event.TypeNodeStarted, "netstate", map[string]any{"node_id": "n1"}))

	nodeFrame := readFrame(t, nodeWatcher)
	assert.Equal(t, string(event.CategoryNodeStatus), nodeFrame["category"])

	projectFrame := readFrame(t, projectWatcher)
	assert.Equal(t, string(event.CategoryProjectEvents), projectFrame["category"])
}

func TestRequestTopology(t *testing.T) {
	state := &fakeState{topology: &gns3.NetworkState{
		Projects:     map[string]gns3.Project{"p1": {ID: "p1", Name: "lab"}},
		Nodes:        map[string]gns3.Node{},
		Links:        map[string]gns3.Link{},
		ServerStatus: gns3.ServerConnected,
	}}
	_, ws := newTestServer(t, state)

	send(t, ws, map[string]any{"type": ctrlRequestTopology})
	frame := readFrame(t, ws)
	require.Equal(t, frameTopologyResponse, frame["type"])
	assert.NotNil(t, frame["state"])
}

func TestRequestTopologyDegradedWhenCacheUnavailable(t *testing.T) {
	state := &fakeState{topologyErr: fmt.Errorf("cache down")}
	_, ws := newTestServer(t, state)

	send(t, ws, map[string]any{"type": ctrlRequestTopology})
	frame := readFrame(t, ws)
	require.Equal(t, frameTopologyResponse, frame["type"])
	assert.Equal(t, true, frame["degraded"])
}

func TestNodeActionProxiesAndReplies(t *testing.T) {
	state := &fakeState{}
	_, ws := newTestServer(t, state)

	send(t, ws, map[string]any{
		"type":       ctrlNodeAction,
		"action":     "start",
		"project_id": "p1",
		"node_id":    "n1",
	})

	frame := readFrame(t, ws)
	require.Equal(t, frameNodeActionResult, frame["type"])
	assert.Equal(t, "start", frame["action"])
	assert.Equal(t, "n1", frame["node_id"])
	assert.Contains(t, state.calls, "start:n1")
}

func TestUnknownControlTypeGetsErrorFrame(t *testing.T) {
	_, ws := newTestServer(t, nil)

	send(t, ws, map[string]any{"type": "bogus"})
	frame := readFrame(t, ws)
	assert.Equal(t, frameError, frame["type"])
}

func TestStaleConnectionsAreEvicted(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, 10*time.Millisecond)

	s.connMu.RLock()
	for _, conn := range s.connections {
		conn.lastHeartbeat.Store(time.Now().Add(-10 * time.Minute))
	}
	s.connMu.RUnlock()

	s.evictStale(time.Now())
	assert.Equal(t, 0, s.Count())
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	s, ws := newTestServer(t, nil)
	require.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, 10*time.Millisecond)

	send(t, ws, map[string]any{"type": ctrlHeartbeat})
	time.Sleep(50 * time.Millisecond)

	s.evictStale(time.Now())
	assert.Equal(t, 1, s.Count())
}

// Start must hand the accept loop to a background goroutine and return as
// soon as the socket is bound, otherwise the daemon's startup sequence
// blocks behind it. Stop then re-arms the lifecycle for a fresh Start.
func TestServerStartReturnsOnceListening(t *testing.T) {
	s := NewServer(0, &fakeState{}, slog.Default())

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after binding the socket")
	}

	dial := func() *websocket.Conn {
		_, port, err := net.SplitHostPort(s.Addr())
		require.NoError(t, err)
		url := "ws://" + net.JoinHostPort("127.0.0.1", port) + DefaultPath
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		greeting := readFrame(t, ws)
		require.Equal(t, frameConnectionEstablished, greeting["type"])
		return ws
	}

	ws := dial()
	ws.Close()
	require.NoError(t, s.Stop(time.Second))

	// The lifecycle is re-armed on Start, so a stopped server comes back.
	require.NoError(t, s.Start(context.Background()))
	ws = dial()
	ws.Close()
	require.NoError(t, s.Stop(time.Second))
}
