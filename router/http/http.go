// Package http receives requests as exchanges:
// http://host:port/path?method=POST&timeout=10s
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"routex/internal/logging"
	"routex/router"
)

const (
	MethodHeader     = "HttpMethod"
	PathHeader       = "HttpPath"
	QueryHeader      = "HttpQuery"
	URLHeader        = "HttpUrl"
	RemoteAddrHeader = "HttpRemoteAddress"
)

func init() {
	router.Register("http", func() router.Component { return component{} })
}

type component struct{}

func (component) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	ep := &Endpoint{
		uri:     uri.String(),
		addr:    uri.Host(),
		path:    uri.Path(),
		method:  strings.ToUpper(uri.Param("method", "")),
		timeout: uri.Duration("timeout", 10*time.Second),
		maxBody: uri.Int("maxBodySize", 4<<20),
	}
	if ep.addr == "" {
		return nil, errors.New("http endpoint needs host:port")
	}
	if _, _, err := net.SplitHostPort(ep.addr); err != nil {
		return nil, fmt.Errorf("http endpoint address: %w", err)
	}
	if ep.path == "" {
		ep.path = "/"
	}
	return ep, nil
}

type Endpoint struct {
	uri     string
	addr    string
	path    string
	method  string
	timeout time.Duration
	maxBody int
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateConsumer(p router.Processor) (router.Consumer, error) {
	return &consumer{ep: e, p: p, log: logging.L().With("component", "http", "addr", e.addr, "path", e.path)}, nil
}

func (e *Endpoint) CreateProducer() (router.Producer, error) {
	return nil, fmt.Errorf("%w: %s", router.ErrProducerUnsupported, e.uri)
}

type consumer struct {
	ep  *Endpoint
	p   router.Processor
	log *slog.Logger

	mu     sync.Mutex
	srv    *fasthttp.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", c.ep.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.srv = &fasthttp.Server{
		Handler:            c.handle,
		Name:               "routex",
		MaxRequestBodySize: c.ep.maxBody,
		Logger:             fasthttpLogger{c.log},
	}
	c.log.Info("starting HTTP server", "method", c.ep.method)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.srv.Serve(ln); err != nil {
			c.log.Warn("http server stopped", "err", err)
		}
	}()
	return nil
}

func (c *consumer) handle(rc *fasthttp.RequestCtx) {
	method := string(rc.Method())
	path := string(rc.Path())

	if path != c.ep.path {
		rc.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if c.ep.method != "" && method != c.ep.method {
		rc.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	ex := router.NewExchange(c.ep.uri)
	// fasthttp reuses request buffers after the handler returns
	ex.Message.Body = append([]byte(nil), rc.PostBody()...)
	ex.Message.SetHeader(MethodHeader, method)
	ex.Message.SetHeader(PathHeader, path)
	ex.Message.SetHeader(URLHeader, rc.URI().String())
	ex.Message.SetHeader(RemoteAddrHeader, rc.RemoteAddr().String())
	if q := rc.QueryArgs().String(); q != "" {
		ex.Message.SetHeader(QueryHeader, q)
	}
	rc.Request.Header.VisitAll(func(k, v []byte) {
		ex.Message.SetHeader(string(k), string(v))
	})

	ctx, cancel := context.WithTimeout(c.ctx, c.ep.timeout)
	defer cancel()
	err := c.p.Process(ctx, ex)
	switch {
	case err == nil:
		rc.SetStatusCode(fasthttp.StatusAccepted)
		rc.Response.Header.Set("X-Exchange-Id", ex.ID)
	case errors.Is(err, context.DeadlineExceeded):
		rc.SetStatusCode(fasthttp.StatusGatewayTimeout)
	case errors.Is(err, router.ErrQueueFull), errors.Is(err, router.ErrNoConsumer):
		rc.SetStatusCode(fasthttp.StatusServiceUnavailable)
	default:
		c.log.Warn("http request not processed", "exchange_id", ex.ID, "err", err)
		rc.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func (c *consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.srv == nil {
		return nil
	}
	c.cancel()
	err := c.srv.Shutdown()
	c.wg.Wait()
	c.srv = nil
	return err
}

type fasthttpLogger struct{ l *slog.Logger }

func (f fasthttpLogger) Printf(format string, args ...any) {
	f.l.Debug(fmt.Sprintf(format, args...))
}
