package ws

import (
	"context"
	"net/http"
	"sync"

	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
)

// Service connects a Terminal's observers to a Hub.
type Service struct {
	hub     *Hub
	term    Terminal
	handler *Handler
	log     pslog.Logger

	mu     sync.Mutex
	detach []func()
}

// NewService creates a Service. Call Start to begin broadcasting.
func NewService(ctx context.Context, term Terminal, checkOrigin func(*http.Request) bool) *Service {
	hub := NewHub()
	return &Service{
		hub:     hub,
		term:    term,
		handler: NewHandler(ctx, hub, term, checkOrigin),
		log:     pslog.Ctx(ctx).With("component", "ws"),
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler { return s.handler }

// Hub returns the client set.
func (s *Service) Hub() *Hub { return s.hub }

// Start subscribes to the terminal. Observers run on the dispatch loop, so
// every broadcast is non-blocking.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detach != nil {
		return
	}
	s.detach = []func(){
		s.term.SubscribeOutput(func(data []byte) {
			s.broadcast(&Message{Type: MessageTypeOutput, Data: data})
		}),
		s.term.SubscribeState(func(snap terminal.Snapshot) {
			s.broadcastPayload(MessageTypeState, snap)
		}),
		s.term.SubscribeActivities(func(list []model.Activity) {
			s.broadcastPayload(MessageTypeActivities, list)
		}),
		s.term.SubscribeStatus(func(st model.Status) {
			s.broadcastPayload(MessageTypeStatus, st)
		}),
	}
}

func (s *Service) broadcastPayload(typ MessageType, v any) {
	if s.hub.Len() == 0 {
		return
	}
	msg, err := payloadMessage(typ, v)
	if err != nil {
		s.log.Warn("broadcast marshal failed", "type", typ, "err", err)
		return
	}
	s.broadcast(msg)
}

func (s *Service) broadcast(msg *Message) {
	before := s.hub.Evicted()
	if _, err := s.hub.BroadcastMessage(msg); err != nil {
		s.log.Warn("broadcast failed", "type", msg.Type, "err", err)
		return
	}
	if n := s.hub.Evicted() - before; n > 0 {
		s.log.Warn("evicted slow presentation clients", "count", n, "type", msg.Type)
	}
}

// Close unsubscribes from the terminal and disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	s.hub.Close()
}
