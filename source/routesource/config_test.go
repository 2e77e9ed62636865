package routesource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		URLConf:           "timer:tick",
		TopicConf:         "ticks",
		"connector.class": "route-source",
	})
	require.NoError(t, err)
	assert.Equal(t, "timer:tick", cfg.URL)
	assert.Equal(t, "ticks", cfg.Topic)
	assert.Equal(t, 1000, cfg.QueueSize)
	assert.True(t, cfg.BlockWhenFull)
	assert.Zero(t, cfg.BlockTimeout)
	assert.Equal(t, "direct:end", cfg.LocalEndpoint())
}

func TestParseConfigQueueOptions(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		URLConf:           "timer:tick",
		TopicConf:         "ticks",
		QueueSizeConf:     "10",
		BlockWhenFullConf: "false",
		BlockTimeoutConf:  "250ms",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.QueueSize)
	assert.False(t, cfg.BlockWhenFull)
	assert.Equal(t, 250*time.Millisecond, cfg.BlockTimeout)
	assert.Equal(t,
		"direct:end?pollingConsumerBlockTimeout=250&pollingConsumerBlockWhenFull=false&pollingConsumerQueueSize=10",
		cfg.LocalEndpoint())
}

func TestParseConfigErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing url":   {TopicConf: "t"},
		"missing topic": {URLConf: "timer:x"},
		"bad size":      {URLConf: "timer:x", TopicConf: "t", QueueSizeConf: "zero"},
		"size too low":  {URLConf: "timer:x", TopicConf: "t", QueueSizeConf: "0"},
		"bad timeout":   {URLConf: "timer:x", TopicConf: "t", BlockTimeoutConf: "soon"},
	}
	for name, props := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(props)
			assert.Error(t, err)
		})
	}
}
