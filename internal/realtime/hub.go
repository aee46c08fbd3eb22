// Package realtime pushes server events to connected browsers over
// websockets. Connections are grouped per identity as "user:<id>".
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/SspStark/adminsphere-server/internal/logger"
)

const (
	TypeForceLogout = "FORCE_LOGOUT"

	writeTimeout = 5 * time.Second
)

// Frame is the envelope of every server-sent message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

func GroupName(userID string) string {
	return "user:" + userID
}

type peer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{conn: conn, encoder: json.NewEncoder(conn)}
}

func (p *peer) write(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.encoder.Encode(frame)
}

// Hub tracks live connections by group.
type Hub struct {
	mu     sync.Mutex
	groups map[string]map[*peer]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*peer]struct{})}
}

func (h *Hub) join(group string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[*peer]struct{})
		h.groups[group] = members
	}
	members[p] = struct{}{}
}

func (h *Hub) leave(group string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.groups[group]
	delete(members, p)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

func (h *Hub) members(group string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*peer, 0, len(h.groups[group]))
	for p := range h.groups[group] {
		out = append(out, p)
	}
	return out
}

// Connections returns the number of live connections for an identity.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[GroupName(userID)])
}

// Broadcast sends frame to every connection in group and returns how many
// writes succeeded.
func (h *Hub) Broadcast(group string, frame Frame) int {
	sent := 0
	for _, p := range h.members(group) {
		if err := p.write(frame); err != nil {
			logger.Debug("realtime write failed", map[string]any{
				"group": group,
				"error": err.Error(),
			})
			continue
		}
		sent++
	}
	return sent
}

// ForceLogout tells every connection of the identity to drop its session.
func (h *Hub) ForceLogout(userID, message string) int {
	return h.Broadcast(GroupName(userID), Frame{
		Type:    TypeForceLogout,
		Payload: MessagePayload{Message: message},
	})
}
