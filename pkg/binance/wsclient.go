package binance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient dials the public ticker stream. The stream needs no subscription
// message: the endpoint itself names the channel, and the server's protocol
// pings are answered by gorilla's default ping handler.
type WSClient struct {
	url    string
	logger *zap.Logger
}

func NewWSClient(url string, logger *zap.Logger) *WSClient {
	return &WSClient{
		url:    url,
		logger: logger,
	}
}

// Dial opens one streaming session. Reconnect policy belongs to the caller;
// a session is abandoned on any read error and never reused.
func (c *WSClient) Dial(ctx context.Context) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Error("failed to connect to stream", zap.String("url", c.url), zap.Error(err))
		return nil, err
	}
	c.logger.Info("stream connected", zap.String("url", c.url))

	return &WSConn{conn: conn}, nil
}

// WSConn is one live streaming session.
type WSConn struct {
	conn *websocket.Conn
}

// ReadTickers blocks for the next message and parses it as an array of
// per-symbol ticker deltas. The feed only carries symbols whose price
// changed, so the result is a partial update.
func (c *WSConn) ReadTickers() ([]TickerPrice, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var deltas []streamTicker
	if err := json.Unmarshal(msg, &deltas); err != nil {
		return nil, fmt.Errorf("parse ticker payload: %w", err)
	}

	out := make([]TickerPrice, 0, len(deltas))
	for _, d := range deltas {
		if d.Symbol == "" {
			continue // skip control frames that decode to empty entries
		}
		out = append(out, d.toTickerPrice())
	}
	return out, nil
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}
