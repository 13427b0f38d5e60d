package clients

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 * 1024
)

// Upgrader accepts client connections. Origin checks are left to the router.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// MessageFunc handles one decoded message from a client
type MessageFunc func(ctx context.Context, c *WSClient, msg json.RawMessage)

// WSClient is a Client backed by a websocket connection. Writes are
// serialised; gorilla/websocket allows one concurrent writer.
type WSClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	log     zerolog.Logger
}

// NewWSClient wraps an upgraded connection
func NewWSClient(conn *websocket.Conn, log zerolog.Logger) *WSClient {
	id := uuid.NewString()
	return &WSClient{
		id:   id,
		conn: conn,
		log:  log.With().Str("client", id).Logger(),
	}
}

func (c *WSClient) ID() string { return c.id }

// PostMessage writes v as a JSON text frame
func (c *WSClient) PostMessage(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Serve runs the read loop until the connection drops or ctx is cancelled.
// Each text frame is passed to fn. A ping goroutine keeps the connection
// alive and stops with the read loop.
func (c *WSClient) Serve(ctx context.Context, fn MessageFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.writeMu.Lock()
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				c.writeMu.Unlock()
				_ = c.conn.Close()
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.writeMu.Unlock()
				if err != nil {
					c.log.Debug().Err(err).Msg("ping failed")
					_ = c.conn.Close()
					return
				}
			}
		}
	}()
	defer func() {
		cancel()
		<-done
	}()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
		if typ != websocket.TextMessage {
			continue
		}
		if !json.Valid(data) {
			c.log.Warn().Int("bytes", len(data)).Msg("ignoring malformed client message")
			continue
		}
		fn(ctx, c, json.RawMessage(data))
	}
}
