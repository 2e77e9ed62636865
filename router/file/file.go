// Package file consumes files dropped into a directory:
// file:/var/in?include=.*\.json&move=.done&delay=500ms
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"routex/internal/logging"
	"routex/router"
)

const (
	NameHeader         = "FileName"
	AbsolutePathHeader = "FileAbsolutePath"
	ParentHeader       = "FileParent"
	LengthHeader       = "FileLength"
	LastModifiedHeader = "FileLastModified"
)

const defaultMoveDir = ".routex"

func init() {
	router.Register("file", func() router.Component { return component{} })
}

type component struct{}

func (component) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	dir := uri.Name()
	if dir == "" {
		return nil, errors.New("file endpoint needs a directory")
	}
	ep := &Endpoint{
		uri:          uri.String(),
		dir:          filepath.Clean(dir),
		delete:       uri.Bool("delete", false),
		move:         uri.Param("move", defaultMoveDir),
		noop:         uri.Bool("noop", false),
		delay:        uri.Duration("delay", 500*time.Millisecond),
		pollInterval: uri.Duration("pollInterval", 5*time.Second),
		autoCreate:   uri.Bool("autoCreate", true),
	}
	if inc := uri.Param("include", ""); inc != "" {
		re, err := regexp.Compile(inc)
		if err != nil {
			return nil, fmt.Errorf("include: %w", err)
		}
		ep.include = re
	}
	if ep.delay <= 0 || ep.pollInterval <= 0 {
		return nil, errors.New("delay and pollInterval must be positive")
	}
	if ep.delete && ep.noop {
		return nil, errors.New("delete and noop cannot both be set")
	}
	return ep, nil
}

type Endpoint struct {
	uri          string
	dir          string
	include      *regexp.Regexp
	delete       bool
	move         string
	noop         bool
	delay        time.Duration
	pollInterval time.Duration
	autoCreate   bool
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateConsumer(p router.Processor) (router.Consumer, error) {
	return &consumer{
		ep:   e,
		p:    p,
		log:  logging.L().With("component", "file", "dir", e.dir),
		seen: map[string]time.Time{},
	}, nil
}

func (e *Endpoint) CreateProducer() (router.Producer, error) {
	return nil, fmt.Errorf("%w: %s", router.ErrProducerUnsupported, e.uri)
}

type consumer struct {
	ep  *Endpoint
	p   router.Processor
	log *slog.Logger

	// noop mode: files already consumed, by modification time
	seen map[string]time.Time

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return nil
	}
	if c.ep.autoCreate {
		if err := os.MkdirAll(c.ep.dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", c.ep.dir, err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file watcher: %w", err)
	}
	if err := w.Add(c.ep.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", c.ep.dir, err)
	}
	c.watcher = w

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx, w)
	c.log.Info("file consumer started")
	return nil
}

func (c *consumer) run(ctx context.Context, w *fsnotify.Watcher) {
	defer c.wg.Done()

	c.scan(ctx)
	poll := time.NewTicker(c.ep.pollInterval)
	defer poll.Stop()
	debounce := time.NewTimer(c.ep.delay)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				debounce.Reset(c.ep.delay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.log.Warn("file watcher error", "err", err)
		case <-debounce.C:
			c.scan(ctx)
		case <-poll.C:
			c.scan(ctx)
		}
	}
}

// scan processes every eligible file in name order.
func (c *consumer) scan(ctx context.Context) {
	entries, err := os.ReadDir(c.ep.dir)
	if err != nil {
		c.log.Warn("read dir failed", "err", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if c.ep.include != nil && !c.ep.include.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		if err := c.consume(ctx, name); err != nil {
			c.log.Warn("file not consumed", "file", name, "err", err)
		}
	}
}

func (c *consumer) consume(ctx context.Context, name string) error {
	path := filepath.Join(c.ep.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if c.ep.noop {
		if mod, ok := c.seen[name]; ok && mod.Equal(info.ModTime()) {
			return nil
		}
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	abs, _ := filepath.Abs(path)

	ex := router.NewExchange(c.ep.uri)
	ex.Message.Body = body
	ex.Message.SetHeader(NameHeader, name)
	ex.Message.SetHeader(AbsolutePathHeader, abs)
	ex.Message.SetHeader(ParentHeader, c.ep.dir)
	ex.Message.SetHeader(LengthHeader, info.Size())
	ex.Message.SetHeader(LastModifiedHeader, info.ModTime())

	if err := c.p.Process(ctx, ex); err != nil {
		return err
	}
	return c.commit(name, path, info.ModTime())
}

func (c *consumer) commit(name, path string, mod time.Time) error {
	switch {
	case c.ep.noop:
		c.seen[name] = mod
		return nil
	case c.ep.delete:
		return os.Remove(path)
	default:
		dst := filepath.Join(c.ep.dir, c.ep.move)
		if filepath.IsAbs(c.ep.move) {
			dst = c.ep.move
		}
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		return os.Rename(path, filepath.Join(dst, name))
	}
}

func (c *consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	err := c.watcher.Close()
	c.watcher = nil
	return err
}
