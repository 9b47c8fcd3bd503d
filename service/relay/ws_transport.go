package relay

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"PPRelay/global"
	"PPRelay/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsTransport adapts a gorilla websocket. A single writer goroutine owns all
// writes, including pings and the close frame.
type wsTransport struct {
	conn *websocket.Conn
	id   string
	cfg  global.WSConfig
	log  *zap.Logger

	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewWSTransport(conn *websocket.Conn, cfg global.WSConfig, log *zap.Logger) Transport {
	t := &wsTransport{
		conn:   conn,
		id:     conn.RemoteAddr().String(),
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendQueue),
		closed: make(chan struct{}),
	}
	t.log = log.With(zap.String("peer", t.id))

	conn.SetReadLimit(cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	go t.writePump()
	return t
}

func (t *wsTransport) ID() string { return t.id }

func (t *wsTransport) Receive(context.Context) ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				return nil, io.EOF
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				t.log.Debug("peer closed", zap.Error(err))
				return nil, io.EOF
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.log.Info("read timeout", zap.Error(err))
			} else {
				t.log.Info("read error", zap.Error(err))
			}
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) Send(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errs.ErrProtocol.Wrap(err, "encode event")
	}
	select {
	case t.send <- b:
		return nil
	case <-t.closed:
		return errs.ErrSessionClosed.WithDetail(t.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *wsTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// writePump drains the send queue and pings at PingPeriod. On Close it
// flushes what is queued, sends a close frame and closes the socket, which
// unblocks Receive.
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case b := <-t.send:
			if err := t.write(websocket.TextMessage, b); err != nil {
				t.log.Debug("write failed", zap.Error(err))
				t.Close()
				return
			}
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteWait)); err != nil {
				t.log.Debug("ping failed", zap.Error(err))
				t.Close()
				return
			}
		case <-t.closed:
			if t.flush() != nil {
				return
			}
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.cfg.WriteWait))
			return
		}
	}
}

func (t *wsTransport) flush() error {
	for {
		select {
		case b := <-t.send:
			if err := t.write(websocket.TextMessage, b); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (t *wsTransport) write(mt int, b []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
	return t.conn.WriteMessage(mt, b)
}
