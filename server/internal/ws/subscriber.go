package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds one frame write.
	writeTimeout = 10 * time.Second

	// pongWait is how long a silent peer is kept before it counts as gone.
	pongWait = 60 * time.Second

	// pingEvery must stay below pongWait.
	pingEvery = pongWait * 9 / 10

	// queueDepth is how many frames may wait for a slow subscriber.
	queueDepth = 16

	// maxInbound caps client frames; subscribers only send control frames.
	maxInbound = 512
)

// subscriber is one WebSocket connection. The hub queues frames; writeLoop
// is the only writer on the connection.
type subscriber struct {
	conn   *websocket.Conn
	remote string

	mu     sync.Mutex
	closed bool
	queue  chan []byte
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		queue:  make(chan []byte, queueDepth),
	}
}

// offer queues frame without blocking. It reports false when the queue is
// full. Offers after close are ignored.
func (s *subscriber) offer(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.queue <- frame:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// writeLoop sends queued frames and keepalive pings. A closed queue ends the
// stream with a close frame.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		_ = s.conn.Close()
	}()

	for {
		var (
			kind    int
			payload []byte
		)
		select {
		case frame, ok := <-s.queue:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			kind, payload = websocket.TextMessage, frame
		case <-ping.C:
			kind = websocket.PingMessage
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(kind, payload); err != nil {
			return
		}
	}
}

// readLoop consumes control frames until the peer disconnects or stops
// answering pings.
func (s *subscriber) readLoop() {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxInbound)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
