package routesource

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"routex/router"
)

// Configuration keys.
const (
	URLConf           = "route.source.url"
	TopicConf         = "route.source.kafka.topic"
	QueueSizeConf     = "route.source.queue.size"
	BlockWhenFullConf = "route.source.queue.block.when.full"
	BlockTimeoutConf  = "route.source.queue.block.timeout"
)

// LocalURL is the in-process endpoint the route delivers to and the task
// polls.
const LocalURL = "direct:end"

type Config struct {
	URL           string        `mapstructure:"route.source.url" validate:"required"`
	Topic         string        `mapstructure:"route.source.kafka.topic" validate:"required"`
	QueueSize     int           `mapstructure:"route.source.queue.size" validate:"min=1"`
	BlockWhenFull bool          `mapstructure:"route.source.queue.block.when.full"`
	BlockTimeout  time.Duration `mapstructure:"route.source.queue.block.timeout" validate:"min=0"`
}

var validate = validator.New()

// ParseConfig decodes task properties. Values are strings; numbers, booleans
// and durations are converted. Properties the task does not know are ignored.
func ParseConfig(props map[string]string) (Config, error) {
	cfg := Config{
		QueueSize:     router.DefaultQueueSize,
		BlockWhenFull: router.DefaultBlockWhenFull,
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(props); err != nil {
		return cfg, fmt.Errorf("decode task config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid task config: %w", err)
	}
	return cfg, nil
}

// LocalEndpoint is LocalURL with the polling options that differ from the
// component defaults.
func (c Config) LocalEndpoint() string {
	q := url.Values{}
	if c.QueueSize != router.DefaultQueueSize {
		q.Set("pollingConsumerQueueSize", strconv.Itoa(c.QueueSize))
	}
	if c.BlockWhenFull != router.DefaultBlockWhenFull {
		q.Set("pollingConsumerBlockWhenFull", strconv.FormatBool(c.BlockWhenFull))
	}
	if c.BlockTimeout > 0 {
		q.Set("pollingConsumerBlockTimeout", strconv.FormatInt(c.BlockTimeout.Milliseconds(), 10))
	}
	if len(q) == 0 {
		return LocalURL
	}
	return LocalURL + "?" + q.Encode()
}
