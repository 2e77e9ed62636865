// Package pgevent turns PostgreSQL notifications into exchanges:
// pgevent://host:5432/database/channel?user=u&pass=p
package pgevent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"routex/internal/logging"
	"routex/router"
)

const (
	ChannelHeader = "PgEventChannel"
	PIDHeader     = "PgEventPid"
)

func init() {
	router.Register("pgevent", func() router.Component { return component{} })
}

type component struct{}

func (component) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	parts := strings.Split(strings.Trim(uri.Path(), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, errors.New("pgevent endpoint must be pgevent://host:port/database/channel")
	}
	host := uri.Host()
	if host == "" {
		host = "localhost:5432"
	} else if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "5432")
	}
	ep := &Endpoint{
		uri:            uri.String(),
		host:           host,
		database:       parts[0],
		channel:        parts[1],
		user:           uri.Param("user", "postgres"),
		password:       uri.Param("pass", ""),
		sslMode:        uri.Param("sslmode", "disable"),
		reconnectDelay: uri.Duration("reconnectDelay", 2*time.Second),
	}
	return ep, nil
}

type Endpoint struct {
	uri            string
	host           string
	database       string
	channel        string
	user           string
	password       string
	sslMode        string
	reconnectDelay time.Duration
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) connString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(e.user, e.password),
		Host:     e.host,
		Path:     "/" + e.database,
		RawQuery: url.Values{"sslmode": {e.sslMode}}.Encode(),
	}
	if e.password == "" {
		u.User = url.User(e.user)
	}
	return u.String()
}

func (e *Endpoint) CreateConsumer(p router.Processor) (router.Consumer, error) {
	return &consumer{ep: e, p: p, log: logging.L().With("component", "pgevent", "channel", e.channel)}, nil
}

func (e *Endpoint) CreateProducer() (router.Producer, error) {
	return nil, fmt.Errorf("%w: %s", router.ErrProducerUnsupported, e.uri)
}

type consumer struct {
	ep  *Endpoint
	p   router.Processor
	log *slog.Logger

	mu     sync.Mutex
	conn   *pgx.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.ep.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{c.ep.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to LISTEN on channel: %w", err)
	}
	return conn, nil
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	conn, err := c.listen(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	c.log.Info("pgevent consumer started", "host", c.ep.host, "database", c.ep.database)
	return nil
}

// run owns c.conn until it returns.
func (c *consumer) run(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if c.conn != nil {
			_ = c.conn.Close(context.Background())
		}
	}()

	for {
		n, err := c.conn.WaitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Warn("notification wait failed; reconnecting", "err", err)
			_ = c.conn.Close(context.Background())
			c.conn = nil
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		ex := toExchange(c.ep.uri, n)
		if err := c.p.Process(ctx, ex); err != nil {
			c.log.Warn("notification not processed", "exchange_id", ex.ID, "err", err)
		}
	}
}

func toExchange(from string, n *pgconn.Notification) *router.Exchange {
	ex := router.NewExchange(from)
	ex.Message.Body = n.Payload
	ex.Message.SetHeader(ChannelHeader, n.Channel)
	ex.Message.SetHeader(PIDHeader, int64(n.PID))
	return ex
}

func (c *consumer) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.ep.reconnectDelay):
		}
		conn, err := c.listen(ctx)
		if err == nil {
			c.conn = conn
			return true
		}
		c.log.Warn("reconnect failed", "err", err)
	}
}

func (c *consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.cancel = nil
	return nil
}
