package assets

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPreloaderProcessesQueue(t *testing.T) {
	m := newTestManager(t)
	writePNG(t, m.BasePath(), "a.png", 8, 8)
	writePNG(t, m.BasePath(), "b.png", 8, 8)

	p := m.NewPreloader()
	p.Add("a.png", "image")
	p.Add("b.png", "image")
	p.Add("missing.png", "image")
	require.Equal(t, 3, p.PendingCount())

	p.Start()
	require.True(t, p.Wait(5*time.Second))

	require.True(t, p.IsComplete())
	require.Equal(t, 1.0, p.Progress())
	require.Equal(t, 2, p.Succeeded())

	failed := p.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "missing.png", failed[0].Path)
	require.ErrorIs(t, failed[0].Err, ErrNotFound)

	require.Equal(t, 2, m.CacheStats().Entries)
}

func TestPreloaderDeduplicatesRequests(t *testing.T) {
	m := newTestManager(t)
	p := m.NewPreloader()

	p.Add("a.png", "image")
	p.Add("a.png", "image")
	p.Add("a.png", "sound")
	require.Equal(t, 2, p.PendingCount())
}

func TestPreloaderProgressMonotonicAndCompleteOnce(t *testing.T) {
	m := newTestManager(t)
	writePNG(t, m.BasePath(), "a.png", 8, 8)
	writeSound(t, m.BasePath(), "b.wav", []byte{0x01, 0x02, 0x03, 0x04})

	p := m.NewPreloader()
	p.Add("a.png", "image")
	p.Add("b.wav", "sound")
	p.Add("nope.ttf", "font")

	var mu sync.Mutex
	var fractions []float64
	completions := 0
	p.OnProgress(func(fraction float64) {
		mu.Lock()
		fractions = append(fractions, fraction)
		mu.Unlock()
	})
	p.OnComplete(func() {
		mu.Lock()
		completions++
		mu.Unlock()
	})

	p.Start()
	require.True(t, p.Wait(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fractions, 3)
	for i := 1; i < len(fractions); i++ {
		require.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	require.Equal(t, 1.0, fractions[len(fractions)-1])
	// Failures never suppress completion; it fires exactly once.
	require.Equal(t, 1, completions)
}

func TestPreloaderEmptyQueueIsCompleteByDefinition(t *testing.T) {
	m := newTestManager(t)
	p := m.NewPreloader()

	require.Equal(t, 1.0, p.Progress())
	require.False(t, p.Wait(10*time.Millisecond))
	require.False(t, p.IsComplete())

	p.Start()
	require.True(t, p.Wait(time.Second))
	require.True(t, p.IsComplete())
}

func TestPreloaderStartWhileRunningIsNoOp(t *testing.T) {
	m := newTestManager(t)
	writePNG(t, m.BasePath(), "a.png", 8, 8)

	p := m.NewPreloader()
	p.Add("a.png", "image")
	p.Start()
	p.Start()
	require.True(t, p.Wait(5*time.Second))
	require.Equal(t, 1, p.Succeeded())
}

func TestPreloaderCancelStopsBetweenItems(t *testing.T) {
	m := newTestManager(t)
	writePNG(t, m.BasePath(), "a.png", 8, 8)
	writePNG(t, m.BasePath(), "b.png", 8, 8)
	writePNG(t, m.BasePath(), "c.png", 8, 8)

	p := m.NewPreloader()
	p.Add("a.png", "image")
	p.Add("b.png", "image")
	p.Add("c.png", "image")

	completions := 0
	p.OnComplete(func() { completions++ })
	// The progress callback runs on the job goroutine after each item, so
	// cancelling from it lands before the next item's cancellation check.
	p.OnProgress(func(float64) { p.Cancel() })

	p.Start()
	require.True(t, p.Wait(5*time.Second), "a cancelled job still closes its done channel")

	require.Equal(t, 1, p.Succeeded())
	require.Less(t, p.Progress(), 1.0)
	require.Equal(t, 0, completions, "cancelled jobs never fire OnComplete")
	require.Equal(t, 1, m.CacheStats().Entries)
}

func TestPreloaderAddAllFromManifest(t *testing.T) {
	m := newTestManager(t)
	p := m.NewPreloader()

	p.AddAll([]ManifestEntry{
		{Path: "a.png", Type: "image"},
		{Path: "b.wav", Type: "sound"},
	})
	require.Equal(t, 2, p.PendingCount())
}
