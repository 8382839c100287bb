package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func TestMemory_AllowNamed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(map[string]Limit{"payments_settle": {Limit: 3, Window: time.Minute}})
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := l.AllowNamed("payments_settle", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}

	ok, err := l.AllowNamed("payments_settle", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request inside the window should be denied")

	// Other callers have their own window
	ok, _ = l.AllowNamed("payments_settle", "10.0.0.2")
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.AllowNamed("payments_settle", "10.0.0.1")
	assert.True(t, ok, "window should slide")
}

func TestMemory_DefaultLimit(t *testing.T) {
	l := NewMemory(map[string]Limit{"default": {Limit: 1, Window: time.Hour}})

	ok, _ := l.AllowNamed("status", "k")
	assert.True(t, ok)
	ok, _ = l.AllowNamed("status", "k")
	assert.False(t, ok)
}

func TestMemory_MissingKey(t *testing.T) {
	l := NewMemory(nil)

	_, err := l.AllowNamed("", "k")
	assert.Error(t, err)
	_, err = l.AllowNamed("b", "")
	assert.Error(t, err)
}

func TestMemory_ForgetsIdleCallers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(map[string]Limit{"status": PerMinute(5)})
	l.now = func() time.Time { return now }

	for i := 0; i < 10000; i++ {
		ok, err := l.AllowNamed("status", fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 10000, l.size())

	now = now.Add(time.Hour)
	ok, err := l.AllowNamed("status", "192.168.1.1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, l.size())
}

func TestMemory_SweepKeepsActiveCallers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(map[string]Limit{"status": {Limit: 1, Window: time.Hour}})
	l.now = func() time.Time { return now }

	ok, _ := l.AllowNamed("status", "10.0.0.1")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = l.AllowNamed("status", "10.0.0.2")
	require.True(t, ok)

	ok, _ = l.AllowNamed("status", "10.0.0.1")
	assert.False(t, ok, "hit inside the hour must survive the sweep")
	assert.Equal(t, 2, l.size())
}
