// Package broadcast fans notifications out to every member of a room.
//
// Delivery goes to all members, the sender included. Each member discards
// notifications that carry its own connection id, so echo suppression
// happens on the receiving side and works the same across processes.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// Notification is one message multicast to a room.
type Notification struct {
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"notification"`
}

// Member is a receiver registered in a room.
type Member interface {
	ConnectionID() string
	// Notify must not block for long; it runs on the sender's goroutine
	// for in-process delivery.
	Notify(Notification)
}

// Broadcaster manages room membership and multicast.
type Broadcaster interface {
	Join(ctx context.Context, room string, member Member) error
	Leave(ctx context.Context, room string, member Member) error
	Send(ctx context.Context, room string, notification Notification) error
}

// IsOwn reports whether the notification originated from member.
func IsOwn(member Member, notification Notification) bool {
	return member != nil && notification.Sender != "" && notification.Sender == member.ConnectionID()
}

var errMemberRequired = errors.New("broadcast member is required")
var errRoomRequired = errors.New("broadcast room is required")

// Hub is an in-process Broadcaster keeping one member set per room.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[Member]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Member]struct{})}
}

// Join registers member in room.
func (h *Hub) Join(_ context.Context, room string, member Member) error {
	_, err := h.JoinFirst(room, member)
	return err
}

// JoinFirst registers member and reports whether room had no members before.
func (h *Hub) JoinFirst(room string, member Member) (bool, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return false, errRoomRequired
	}
	if member == nil {
		return false, errMemberRequired
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[Member]struct{})
		h.rooms[room] = members
	}
	members[member] = struct{}{}
	return !ok, nil
}

// Leave removes member from room.
func (h *Hub) Leave(_ context.Context, room string, member Member) error {
	_, err := h.LeaveLast(room, member)
	return err
}

// LeaveLast removes member and reports whether room is now empty. Removing
// an unknown member reports false.
func (h *Hub) LeaveLast(room string, member Member) (bool, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return false, errRoomRequired
	}
	if member == nil {
		return false, errMemberRequired
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return false, nil
	}
	delete(members, member)
	if len(members) == 0 {
		delete(h.rooms, room)
		return true, nil
	}
	return false, nil
}

// Send delivers notification to every member of room.
func (h *Hub) Send(_ context.Context, room string, notification Notification) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return errRoomRequired
	}
	h.Deliver(room, notification)
	return nil
}

// Deliver hands notification to the current members of room and returns
// how many received it.
func (h *Hub) Deliver(room string, notification Notification) int {
	members := h.Members(room)
	for _, member := range members {
		member.Notify(notification)
	}
	return len(members)
}

// Members snapshots the members of room.
func (h *Hub) Members(room string) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[strings.TrimSpace(room)]
	snapshot := make([]Member, 0, len(members))
	for member := range members {
		snapshot = append(snapshot, member)
	}
	return snapshot
}

var _ Broadcaster = (*Hub)(nil)
