package offset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Entry is the last committed offset of one source partition.
type Entry struct {
	Partition map[string]any `json:"partition"`
	Offset    map[string]any `json:"offset"`
}

// Store persists offsets for one namespace (a pipeline).
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
	Close() error
}

type StoreConfig struct {
	Type      string `yaml:"type" mapstructure:"type" validate:"omitempty,oneof=memory file redis"`
	Path      string `yaml:"path" mapstructure:"path" validate:"required_if=Type file"`
	Address   string `yaml:"address" mapstructure:"address" validate:"required_if=Type redis"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db" validate:"min=0,max=15"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// Key identifies a source partition. Map keys are sorted so equal partitions
// always produce the same key.
func Key(partition map[string]any) (string, error) {
	b, err := sonic.ConfigStd.Marshal(partition)
	if err != nil {
		return "", fmt.Errorf("offset: partition key: %w", err)
	}
	return string(b), nil
}

func NewStore(cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path), nil
	case "redis":
		ns := cfg.Namespace
		if ns == "" {
			ns = "default"
		}
		return NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}), ns), nil
	default:
		return nil, fmt.Errorf("offset: unknown store type %q", cfg.Type)
	}
}

/*──────── memory ───────*/

type MemoryStore struct {
	mu sync.Mutex
	m  map[string]Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{m: map[string]Entry{}} }

func (s *MemoryStore) Load(context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.m[k] = v
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

/*──────── file ───────*/

// FileStore keeps every offset in one JSON document, replaced atomically on
// each save.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) Load(context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (map[string]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offset: read %s: %w", s.path, err)
	}
	out := map[string]Entry{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("offset: decode %s: %w", s.path, err)
	}
	return out, nil
}

func (s *FileStore) Save(_ context.Context, entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.read()
	if err != nil {
		return err
	}
	for k, v := range entries {
		cur[k] = v
	}
	raw, err := sonic.ConfigStd.MarshalIndent(cur, "", "  ")
	if err != nil {
		return fmt.Errorf("offset: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("offset: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("offset: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Close() error { return nil }

/*──────── redis ───────*/

// RedisStore keeps one hash per namespace; fields are partition keys.
type RedisStore struct {
	client *redis.Client
	hash   string
}

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, hash: "routex:offsets:" + namespace}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]Entry, error) {
	all, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("offset: redis hgetall %s: %w", s.hash, err)
	}
	out := make(map[string]Entry, len(all))
	for k, v := range all {
		var e Entry
		if err := sonic.UnmarshalString(v, &e); err != nil {
			return nil, fmt.Errorf("offset: decode %s/%s: %w", s.hash, k, err)
		}
		out[k] = e
	}
	return out, nil
}

func (s *RedisStore) Save(ctx context.Context, entries map[string]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	fields := make([]any, 0, len(entries)*2)
	for k, e := range entries {
		v, err := sonic.MarshalString(e)
		if err != nil {
			return fmt.Errorf("offset: encode %s: %w", k, err)
		}
		fields = append(fields, k, v)
	}
	if err := s.client.HSet(ctx, s.hash, fields...).Err(); err != nil {
		return fmt.Errorf("offset: redis hset %s: %w", s.hash, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
