package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
)

// Presentation stream keepalive. pingPeriod must stay below pongWait.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8192
)

// Terminal is what the handler drives and observes.
type Terminal interface {
	SendInput(data []byte) error
	SendKey(name string) error
	Resize(cols, rows int) error
	History() []byte
	Snapshot() terminal.Snapshot
	Activities() []model.Activity
	Status() model.Status
	SubscribeOutput(fn func([]byte)) func()
	SubscribeState(fn func(terminal.Snapshot)) func()
	SubscribeActivities(fn func([]model.Activity)) func()
	SubscribeStatus(fn func(model.Status)) func()
}

var _ Terminal = (*terminal.Client)(nil)

// Handler upgrades presentation clients and routes their messages.
type Handler struct {
	ctx      context.Context
	hub      *Hub
	term     Terminal
	upgrader websocket.Upgrader
	log      pslog.Logger
}

// NewHandler creates a handler. checkOrigin may be nil to accept any origin.
func NewHandler(ctx context.Context, hub *Hub, term Terminal, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	h := &Handler{
		ctx:  ctx,
		hub:  hub,
		term: term,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: pslog.Ctx(ctx).With("component", "ws"),
	}
	hub.SetRoute(h.handleMessage)
	return h
}

// HandleConnection upgrades the request, replays the current terminal state
// and starts the pumps.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn)
	h.sendInitial(client)
	h.hub.Register(client)
	h.log.Info("presentation client attached", "client_id", client.ID(), "remote", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

// sendInitial brings a new client up to date before it sees live broadcasts.
func (h *Handler) sendInitial(client *Client) {
	if history := h.term.History(); len(history) > 0 {
		client.SendMessage(&Message{Type: MessageTypeHistory, Data: history})
	}
	if msg, err := payloadMessage(MessageTypeState, h.term.Snapshot()); err == nil {
		client.SendMessage(msg)
	}
	if msg, err := payloadMessage(MessageTypeActivities, h.term.Activities()); err == nil {
		client.SendMessage(msg)
	}
	if msg, err := payloadMessage(MessageTypeStatus, h.term.Status()); err == nil {
		client.SendMessage(msg)
	}
}

func (h *Handler) handleMessage(client *Client, msg *Message) {
	var err error
	switch msg.Type {
	case MessageTypeInput:
		if len(msg.Data) > 0 {
			err = h.term.SendInput(msg.Data)
		}
	case MessageTypeKey:
		err = h.term.SendKey(msg.Key)
	case MessageTypeResize:
		err = h.term.Resize(msg.Cols, msg.Rows)
	case MessageTypePing:
		client.SendMessage(&Message{Type: MessageTypePong})
	default:
		err = errors.New("unsupported message type " + string(msg.Type))
	}
	if err != nil {
		h.log.Warn("client message rejected", "client_id", client.ID(), "type", msg.Type, "err", err)
		client.SendMessage(&Message{Type: MessageTypeError, Error: err.Error()})
	}
}

// readPump decodes client messages until the connection fails.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn().Close()
		h.log.Info("presentation client detached", "client_id", client.ID())
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("presentation client read failed", "client_id", client.ID(), "err", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("malformed client message", "client_id", client.ID(), "err", err)
			continue
		}
		h.hub.Route(client, &msg)
	}
}

// writePump drains the outbox, one JSON document per text frame, and pings
// the client every pingPeriod.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.Outbox():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
