package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{ListenFD: 3}
	require.NoError(t, cfg.Validate())

	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Clock)
	assert.Equal(t, defaultWorkers, cfg.Workers)
	assert.Equal(t, time.Duration(-1), cfg.PollTimeout)
	assert.Equal(t, defaultMaxEvents, cfg.MaxEvents)
	assert.Equal(t, defaultAcceptTimeout, cfg.AcceptTimeout)
	assert.Equal(t, defaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, defaultBufSize, cfg.BufSize)
}

func TestConfigValidate_ListenFDRequired(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.Error(t, cfg.Validate())
}

func TestConfigValidate_NegativePollTimeoutMeansIndefinite(t *testing.T) {
	t.Parallel()

	cfg := &Config{ListenFD: 3, PollTimeout: -5 * time.Second}
	require.NoError(t, cfg.Validate())
	assert.Negative(t, cfg.PollTimeout)
}

func TestConfigValidate_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		ListenFD:      3,
		Workers:       8,
		PollTimeout:   2 * time.Second,
		MaxEvents:     64,
		AcceptTimeout: time.Second,
		DialTimeout:   5 * time.Second,
		BufSize:       8192,
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.PollTimeout)
	assert.Equal(t, 64, cfg.MaxEvents)
	assert.Equal(t, time.Second, cfg.AcceptTimeout)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 8192, cfg.BufSize)
}

func TestConfigValidate_RejectsNegatives(t *testing.T) {
	t.Parallel()

	for _, cfg := range []*Config{
		{ListenFD: 3, Workers: -1},
		{ListenFD: 3, MaxEvents: -1},
		{ListenFD: 3, AcceptTimeout: -time.Second},
		{ListenFD: 3, DialTimeout: -time.Second},
		{ListenFD: 3, BufSize: -1},
	} {
		assert.Error(t, cfg.Validate())
	}
}
