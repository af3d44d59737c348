package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"GoldCast/pkg/logger"
)

var ErrNotConnected = errors.New("finnhub not connected")

// Trade is one executed trade from the Finnhub stream.
type Trade struct {
	Symbol string
	Price  float64
	Volume float64
	Time   time.Time
}

type Option func(*Client)

// WithPingInterval sets how often a ping is written. The read deadline is
// two intervals, extended by every pong.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingEvery = d
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// Client is a Finnhub WebSocket trade stream for a fixed symbol set.
type Client struct {
	endpoint  string
	token     string
	symbols   []string
	pingEvery time.Duration
	buffer    int
	dialer    *websocket.Dialer
	log       *logger.Logger

	mu   sync.Mutex // guards conn and all writes to it
	conn *websocket.Conn
}

// New creates a stream client. An empty token omits the token parameter.
func New(token, endpoint string, symbols []string, opts ...Option) *Client {
	c := &Client{
		endpoint:  endpoint,
		token:     token,
		symbols:   symbols,
		pingEvery: 30 * time.Second,
		buffer:    256,
		dialer:    websocket.DefaultDialer,
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.String("component", "finnhub"))
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub dial %s: %w", u.Host, err)
	}
	deadline := 2 * c.pingEvery
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("connected", logger.String("host", u.Host))
	return nil
}

type control struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (c *Client) Subscribe(context.Context) error {
	for _, sym := range c.symbols {
		err := c.withConn(func(conn *websocket.Conn) error {
			return conn.WriteJSON(control{Type: "subscribe", Symbol: sym})
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	c.log.Info("subscribed", logger.Strings("symbols", c.symbols))
	return nil
}

// frame is a server message. Only "trade" frames carry data; "ping" frames
// are keepalives.
type frame struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string  `json:"s"`
		Price  float64 `json:"p"`
		Volume float64 `json:"v"`
		Millis int64   `json:"t"`
	} `json:"data"`
}

func decodeTrades(b []byte) []Trade {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil || f.Type != "trade" {
		return nil
	}
	out := make([]Trade, len(f.Data))
	for i, d := range f.Data {
		out[i] = Trade{Symbol: d.Symbol, Price: d.Price, Volume: d.Volume, Time: time.UnixMilli(d.Millis).UTC()}
	}
	return out
}

// Read streams trades until ctx is done or the connection fails. The error
// channel receives at most one error and both channels close when reading
// stops. Trades are dropped when the consumer falls behind.
func (c *Client) Read(ctx context.Context) (<-chan Trade, <-chan error) {
	trades := make(chan Trade, c.buffer)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- ErrNotConnected
		close(trades)
		close(errs)
		return trades, errs
	}

	stopped := make(chan struct{})
	go c.keepalive(ctx, stopped)
	go func() {
		defer close(errs)
		defer close(trades)
		defer close(stopped)

		dropped := 0
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				if dropped > 0 {
					c.log.Debug("trades dropped", logger.Int("count", dropped))
				}
				return
			}
			for _, tr := range decodeTrades(b) {
				select {
				case trades <- tr:
				case <-ctx.Done():
					return
				default:
					dropped++
				}
			}
		}
	}()
	return trades, errs
}

// keepalive pings until the reader stops. Cancelling ctx closes the
// connection, which unblocks the reader.
func (c *Client) keepalive(ctx context.Context, stopped <-chan struct{}) {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-stopped:
			return
		case <-ticker.C:
			err := c.withConn(func(conn *websocket.Conn) error {
				return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			})
			if err != nil {
				c.log.Warn("ping failed", logger.Error(err))
			}
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) withConn(fn func(*websocket.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return fn(c.conn)
}
