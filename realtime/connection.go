package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/pkg/buffer"
)

// connection is one subscriber. Outbound frames go through a bounded
// drop-oldest ring so a slow reader never stalls fanout to other clients.
type connection struct {
	id   string
	conn *websocket.Conn

	subMu         sync.RWMutex
	subscriptions map[event.Category]struct{}

	lastHeartbeat atomic.Value // time.Time
	connectedAt   time.Time

	outbox *buffer.Ring[[]byte]
	wake   chan struct{}
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

func newConnection(id string, conn *websocket.Conn, outboxCapacity int) (*connection, error) {
	outbox, err := buffer.NewRing[[]byte](outboxCapacity, buffer.DropOldest)
	if err != nil {
		return nil, err
	}

	c := &connection{
		id:            id,
		conn:          conn,
		subscriptions: make(map[event.Category]struct{}),
		connectedAt:   time.Now(),
		outbox:        outbox,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now())
	return c, nil
}

func (c *connection) heartbeat() {
	c.lastHeartbeat.Store(time.Now())
}

func (c *connection) stale(now time.Time, timeout time.Duration) bool {
	last, _ := c.lastHeartbeat.Load().(time.Time)
	return now.Sub(last) > timeout
}

func (c *connection) subscribe(categories []event.Category) []event.Category {
	c.subMu.Lock()
	for _, cat := range categories {
		if cat.IsSubscribable() {
			c.subscriptions[cat] = struct{}{}
		}
	}
	c.subMu.Unlock()
	return c.subscriptionList()
}

func (c *connection) unsubscribe(categories []event.Category) []event.Category {
	c.subMu.Lock()
	for _, cat := range categories {
		delete(c.subscriptions, cat)
	}
	c.subMu.Unlock()
	return c.subscriptionList()
}

func (c *connection) subscriptionList() []event.Category {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	out := make([]event.Category, 0, len(c.subscriptions))
	for cat := range c.subscriptions {
		out = append(out, cat)
	}
	return out
}

// matches reports whether the connection's filter accepts the category.
// Unmatched connections are silently skipped, never errored.
func (c *connection) matches(category event.Category) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if _, ok := c.subscriptions[event.CategoryAllEvents]; ok {
		return true
	}
	_, ok := c.subscriptions[category]
	return ok
}

// enqueue buffers a serialized frame and wakes the writer. Overflow drops
// the oldest frame; publish order to this connection is otherwise
// preserved.
func (c *connection) enqueue(frame []byte) {
	if c.closed.Load() {
		return
	}
	_ = c.outbox.Write(frame)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// enqueueJSON marshals and buffers a frame.
func (c *connection) enqueueJSON(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// writeLoop drains the outbox to the socket. Runs as the connection's only
// writer goroutine.
func (c *connection) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}

		for _, frame := range c.outbox.ReadBatch(32) {
			if c.closed.Load() {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.conn.Close()
	})
}
