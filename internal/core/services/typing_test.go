package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingExpires(t *testing.T) {
	tr := NewTypingTracker(50 * time.Millisecond)
	defer tr.Close()
	conv := uuid.New()

	ind := tr.Start(conv, "u1", "Dana", time.Now())
	assert.Equal(t, "Dana", ind.UserName)
	assert.Equal(t, 1, tr.Len())

	require.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTypingRenewalReplacesTimer(t *testing.T) {
	tr := NewTypingTracker(80 * time.Millisecond)
	defer tr.Close()
	conv := uuid.New()

	tr.Start(conv, "u1", "Dana", time.Now())
	time.Sleep(50 * time.Millisecond)
	second := tr.Start(conv, "u1", "Dana", time.Now())
	assert.Equal(t, 1, tr.Len(), "one indicator per key")

	// Past the first deadline the renewed indicator is still there.
	time.Sleep(50 * time.Millisecond)
	cur, ok := tr.Active(conv, "u1")
	require.True(t, ok)
	assert.Equal(t, second.ExpiresAt, cur.ExpiresAt)

	require.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTypingStop(t *testing.T) {
	tr := NewTypingTracker(time.Minute)
	defer tr.Close()
	conv := uuid.New()

	assert.False(t, tr.Stop(conv, "u1"))
	tr.Start(conv, "u1", "Dana", time.Now())
	tr.Start(conv, "u2", "Lee", time.Now())
	assert.True(t, tr.Stop(conv, "u1"))
	_, ok := tr.Active(conv, "u1")
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Len())
}
