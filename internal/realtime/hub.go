// Package realtime fans out chat events to in-process subscribers.
// With redis configured the fan-out crosses instances: events are
// published to a single redis channel and re-dispatched locally from
// the subscribe loop, so every instance sees every event exactly once.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channel = "consult:chat:events"

const (
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
	KindResync = "resync"
)

type Event struct {
	Kind    string          `json:"kind"`
	RoomID  string          `json:"roomId,omitempty"`
	Message *MessagePayload `json:"message,omitempty"`
}

type MessagePayload struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	IsRead    bool   `json:"isRead"`
	CreatedAt int64  `json:"createdAt"`
}

const subscriberBuffer = 32

type Hub struct {
	redis *redis.Client

	mu        sync.Mutex
	roomSubs  map[string]map[*Subscription]struct{}
	eventSubs map[*Subscription]struct{}
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		redis:     redisClient,
		roomSubs:  map[string]map[*Subscription]struct{}{},
		eventSubs: map[*Subscription]struct{}{},
	}
}

// Run pumps redis-delivered events into local dispatch. It returns when
// ctx is done. Without redis there is nothing to pump: Publish
// dispatches directly.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		<-ctx.Done()
		return
	}
	pubsub := h.redis.Subscribe(ctx, channel)
	defer pubsub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("realtime: dropping malformed event: %v", err)
				continue
			}
			h.dispatch(event)
		}
	}
}

// Publish sends an event to every subscriber. With redis the event
// round-trips through the channel; locally-published events are only
// dispatched from the subscribe loop to avoid double delivery.
func (h *Hub) Publish(ctx context.Context, event Event) {
	if h.redis != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("realtime: marshal event: %v", err)
			return
		}
		if err := h.redis.Publish(ctx, channel, payload).Err(); err != nil {
			log.Printf("realtime: publish failed, dispatching locally: %v", err)
			h.dispatch(event)
		}
		return
	}
	h.dispatch(event)
}

func (h *Hub) dispatch(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if event.RoomID != "" {
		for sub := range h.roomSubs[event.RoomID] {
			h.deliverLocked(sub, event)
		}
	}
	for sub := range h.eventSubs {
		h.deliverLocked(sub, event)
	}
}

// deliverLocked applies duplicate suppression by message id and drops
// subscribers whose buffer is full rather than blocking dispatch.
func (h *Hub) deliverLocked(sub *Subscription, event Event) {
	if sub.closed {
		return
	}
	if sub.roomID != "" && event.Message != nil {
		if _, dup := sub.seen[event.Message.ID]; dup {
			return
		}
		sub.seen[event.Message.ID] = struct{}{}
	}
	select {
	case sub.C <- event:
	default:
		log.Printf("realtime: dropping slow subscriber for room %q", sub.roomID)
		h.removeLocked(sub)
	}
}

type Subscription struct {
	C chan Event

	hub    *Hub
	roomID string
	seen   map[string]struct{}
	closed bool
}

// SubscribeRoom registers a per-room subscription. seenIDs carries the
// message ids already rendered from the history fetch so the realtime
// echo of an optimistic insert is not delivered twice.
func (h *Hub) SubscribeRoom(roomID string, seenIDs []string) *Subscription {
	sub := &Subscription{
		C:      make(chan Event, subscriberBuffer),
		hub:    h,
		roomID: roomID,
		seen:   make(map[string]struct{}, len(seenIDs)),
	}
	for _, id := range seenIDs {
		sub.seen[id] = struct{}{}
	}
	h.mu.Lock()
	if h.roomSubs[roomID] == nil {
		h.roomSubs[roomID] = map[*Subscription]struct{}{}
	}
	h.roomSubs[roomID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// SubscribeEvents registers for the coarse, unscoped event feed that
// drives unread-count recomputation.
func (h *Hub) SubscribeEvents() *Subscription {
	sub := &Subscription{
		C:   make(chan Event, subscriberBuffer),
		hub: h,
	}
	h.mu.Lock()
	h.eventSubs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// MarkSeen records message ids as already delivered so their realtime
// echo is suppressed. Lets a caller subscribe first and seed once the
// history fetch returns, leaving no window where an insert is lost.
func (s *Subscription) MarkSeen(ids ...string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed || s.seen == nil {
		return
	}
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
}

// Close unsubscribes; no events are delivered afterwards.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	s.hub.removeLocked(s)
	s.hub.mu.Unlock()
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if sub.roomID != "" {
		delete(h.roomSubs[sub.roomID], sub)
		if len(h.roomSubs[sub.roomID]) == 0 {
			delete(h.roomSubs, sub.roomID)
		}
	} else {
		delete(h.eventSubs, sub)
	}
	close(sub.C)
}
