package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleReadyWithNoHistory(t *testing.T) {
	m := NewLifecycleManager(LifecycleConfig{})
	assert.True(t, m.Ready("SER1"))
}

func TestLifecycleNormalCompletionImposesDelay(t *testing.T) {
	m := NewLifecycleManager(LifecycleConfig{WaitNormal: time.Hour, WaitError: time.Minute})
	m.Record("SER1", ExitNormal)
	assert.False(t, m.Ready("SER1"))
}

func TestLifecycleErrorUsesShorterDelay(t *testing.T) {
	m := NewLifecycleManager(LifecycleConfig{WaitNormal: time.Hour, WaitError: time.Millisecond})
	m.Record("SER1", ExitError)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, m.Ready("SER1"), "the short error delay should already have elapsed")
}

func TestLifecycleExternalStopClearsCooldown(t *testing.T) {
	m := NewLifecycleManager(LifecycleConfig{WaitNormal: time.Hour})
	m.Record("SER1", ExitNormal)
	require := assert.New(t)
	require.False(m.Ready("SER1"))

	m.Record("SER1", ExitExternalStop)
	require.True(m.Ready("SER1"))
}

func TestLifecycleDefaultsApplied(t *testing.T) {
	m := NewLifecycleManager(LifecycleConfig{})
	assert.Equal(t, 30*time.Minute, m.cfg.WaitNormal)
	assert.Equal(t, 5*time.Minute, m.cfg.WaitError)
}
