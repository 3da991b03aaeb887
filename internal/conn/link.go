package conn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendBuffer is the depth of the outbound queue. A full queue means the socket
// has stopped draining and the link is torn down.
const sendBuffer = 256

// link is one open WebSocket together with its pump goroutines. The loop only
// touches id, epoch and enqueue; the pumps own the socket.
type link struct {
	id    string
	epoch uint64
	ws    *websocket.Conn
	send  chan []byte
	done  chan struct{}
	once  sync.Once

	writeWait    time.Duration
	pingInterval time.Duration
	pongWait     time.Duration
}

func newLink(id string, epoch uint64, ws *websocket.Conn, cfg Config) *link {
	return &link{
		id:           id,
		epoch:        epoch,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		writeWait:    cfg.WriteWait,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
	}
}

// enqueue queues msg without blocking and reports whether it fit.
func (l *link) enqueue(msg []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.send <- msg:
		return true
	default:
		return false
	}
}

// close asks the write pump to say goodbye and shut the socket. Safe to call
// repeatedly and from any goroutine.
func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

// readPump delivers every inbound message to onMessage and reports the first
// read error to onClose. It returns when the socket dies.
func (l *link) readPump(onMessage func([]byte), onClose func(error)) {
	defer l.close()

	if l.pongWait > 0 {
		l.ws.SetReadDeadline(time.Now().Add(l.pongWait))
		l.ws.SetPongHandler(func(string) error {
			l.ws.SetReadDeadline(time.Now().Add(l.pongWait))
			return nil
		})
	}

	for {
		_, message, err := l.ws.ReadMessage()
		if err != nil {
			onClose(err)
			return
		}
		if l.pongWait > 0 {
			l.ws.SetReadDeadline(time.Now().Add(l.pongWait))
		}
		onMessage(message)
	}
}

// writePump drains the send queue into the socket, one binary frame per
// message, and pings the peer on a fixed interval.
func (l *link) writePump() {
	var tick <-chan time.Time
	if l.pingInterval > 0 {
		ticker := time.NewTicker(l.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		l.close()
		l.ws.Close()
	}()

	for {
		select {
		case <-l.done:
			l.ws.SetWriteDeadline(time.Now().Add(l.writeWait))
			l.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(l.writeWait))
			if err := l.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

			n := len(l.send)
			for i := 0; i < n; i++ {
				l.ws.SetWriteDeadline(time.Now().Add(l.writeWait))
				if err := l.ws.WriteMessage(websocket.BinaryMessage, <-l.send); err != nil {
					return
				}
			}
		case <-tick:
			l.ws.SetWriteDeadline(time.Now().Add(l.writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
