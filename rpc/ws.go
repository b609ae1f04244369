package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"hydro/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

// EventBroker fans out every event emitted by the engine to connected
// websocket subscribers. It implements events.Emitter so it can be wired
// directly via Engine.SetEmitter.
type EventBroker struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewEventBroker constructs an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{subs: make(map[chan []byte]struct{})}
}

// Emit implements events.Emitter, broadcasting ev to every subscriber. A
// subscriber too slow to keep its buffer drained is dropped rather than
// allowed to block the engine's single-threaded message loop.
func (b *EventBroker) Emit(ev events.Event) {
	payload, err := json.Marshal(struct {
		Type string      `json:"type"`
		Data events.Event `json:"data"`
	}{Type: ev.EventType(), Data: ev})
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- payload:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}

func (b *EventBroker) subscribe() chan []byte {
	ch := make(chan []byte, wsSendBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBroker) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Broker returns the server's event broker, for wiring into
// Engine.SetEmitter.
func (s *Server) Broker() *EventBroker {
	return s.broker
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ch := s.broker.subscribe()
	defer s.broker.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
