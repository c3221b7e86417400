package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMicroBreaker_OpensAndProbes(t *testing.T) {
	now := time.Now()
	b := NewMicroBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	require.True(t, b.TryAcquire())
	b.OnFailure()
	require.Equal(t, "closed", b.State())
	b.OnFailure()
	require.Equal(t, "open", b.State())
	require.False(t, b.Ready())
	require.False(t, b.TryAcquire())

	now = now.Add(2 * time.Second)
	require.True(t, b.Ready())
	require.True(t, b.TryAcquire())
	require.Equal(t, "half-open", b.State())
	// only one probe at a time
	require.False(t, b.TryAcquire())

	b.OnFailure()
	require.Equal(t, "open", b.State())

	now = now.Add(2 * time.Second)
	require.True(t, b.TryAcquire())
	b.OnSuccess()
	require.Equal(t, "closed", b.State())
	require.True(t, b.TryAcquire())
	require.True(t, b.TryAcquire())
}
