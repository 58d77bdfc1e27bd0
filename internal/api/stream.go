package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ModerationEvent describes websocket payloads emitted for verdicts, reviews
// and retry jobs.
type ModerationEvent struct {
	Type       string         `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	Moderation *ModerationDTO `json:"moderation,omitempty"`
	Total      int            `json:"total,omitempty"`
	Processed  int            `json:"processed,omitempty"`
	Message    string         `json:"message,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Notifier keeps track of websocket clients and broadcasts moderation events.
type Notifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *ModerationEvent
}

// NewNotifier constructs a notifier instance.
func NewNotifier() *Notifier {
	return &Notifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the last job status.
func (n *Notifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	status := n.lastStatus
	n.mu.Unlock()

	if status != nil {
		_ = client.writeJSON(*status)
	}
	return client
}

// Unregister removes the websocket client and closes the socket.
func (n *Notifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the event to every registered client.
func (n *Notifier) Broadcast(event ModerationEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	switch event.Type {
	case "retry_started", "retry_progress", "retry_completed", "retry_cancelled":
		snapshot := event
		snapshot.Moderation = nil
		n.lastStatus = &snapshot
	}

	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
}

// LastStatus returns a copy of the most recent job event.
func (n *Notifier) LastStatus() *ModerationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	copy := *n.lastStatus
	return &copy
}

func (c *wsClient) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
