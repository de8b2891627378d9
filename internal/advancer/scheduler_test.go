package advancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-tournament/internal/round"
)

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.TickTimeout)
}

func TestSchedulerStartStopLifecycle(t *testing.T) {
	s := NewScheduler(&round.Service{}, nil, &SchedulerConfig{
		TickInterval: 10 * time.Millisecond,
		TickTimeout:  5 * time.Millisecond,
	})

	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	err := s.Start()
	assert.Error(t, err, "starting an already-running scheduler should fail")

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	err = s.Stop()
	assert.Error(t, err, "stopping an already-stopped scheduler should fail")
}

func TestSweepSchedulerStartStopLifecycle(t *testing.T) {
	s := NewSweepScheduler(nil, nil, "BTCUSDT", 0.2, 0, nil, &SchedulerConfig{
		TickInterval: 10 * time.Millisecond,
		TickTimeout:  5 * time.Millisecond,
	})

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}
