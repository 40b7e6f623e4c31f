package eventbus

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestEnvOptions_Empty(t *testing.T) {
	opts, err := EnvOptions("EVTTEST_EMPTY_")
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestEnvOptions(t *testing.T) {
	t.Setenv("EVTTEST_CONSISTENCY", "true")
	t.Setenv("EVTTEST_SHARDS", "4")
	t.Setenv("EVTTEST_AUTOPRUNE", "true")
	t.Setenv("EVTTEST_ASYNC_WORKERS", "3")
	t.Setenv("EVTTEST_ASYNC_QUEUE", "10")

	opts, err := EnvOptions("EVTTEST_")
	require.NoError(t, err)
	conf := defaultConf()
	for _, opt := range opts {
		require.NoError(t, opt(conf))
	}
	assert.True(t, conf.enforce)
	assert.Equal(t, 4, conf.shards)
	assert.True(t, conf.autoPrune)
	require.NotNil(t, conf.pool)
	assert.Equal(t, 3, conf.pool.workers)
	assert.Equal(t, 10, conf.pool.queue)
}

func TestEnvOptions_QueueDefault(t *testing.T) {
	t.Setenv("EVTTEST_ASYNC_WORKERS", "2")
	opts, err := EnvOptions("EVTTEST_")
	require.NoError(t, err)
	conf := defaultConf()
	for _, opt := range opts {
		require.NoError(t, opt(conf))
	}
	require.NotNil(t, conf.pool)
	assert.Equal(t, 2, conf.pool.queue, "Queue size should default to the worker count")
}

func TestEnvOptions_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"Not a number": {
			"EVTTEST_SHARDS": "many",
		},
		"Not a bool": {
			"EVTTEST_CONSISTENCY": "sometimes",
		},
		"Queue without workers": {
			"EVTTEST_ASYNC_QUEUE": "10",
		},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := EnvOptions("EVTTEST_")
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestNewBusFromEnv(t *testing.T) {
	t.Setenv("WEAKBUS_CONSISTENCY", "true")
	t.Setenv("WEAKBUS_ASYNC_WORKERS", "2")

	b, err := NewBusFromEnv("from env", "")
	require.NoError(t, err)
	assert.True(t, b.PayloadConsistency())
	require.NotNil(t, b.pool, "The bus should own a worker pool")

	var seen []string
	sub := newTestSubscriber("a")
	sub.payloads = &seen
	require.NoError(t, SubscribeHandler[evtMessage, testPayload](b, sub))
	assert.NoError(t, PublishAsync[evtMessage](b, testPayload{Content: "pooled"}).Await(time.Second))
	assert.Equal(t, []string{"pooled"}, sub.seen())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, b.Close(ctx))
}

func TestNewBusFromEnv_ExplicitOverrides(t *testing.T) {
	t.Setenv("EVTTEST_CONSISTENCY", "true")
	b, err := NewBusFromEnv("override", "EVTTEST_", PayloadConsistency(false))
	require.NoError(t, err)
	assert.False(t, b.PayloadConsistency())

	t.Setenv("EVTTEST_SHARDS", "0")
	_, err = NewBusFromEnv("invalid", "EVTTEST_")
	assert.ErrorIs(t, err, ErrInvalidOption)
}
