package assets

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FailedLoad records one batch item that did not load. Batch drivers keep
// failures distinct from successes so callers can tell "processed" apart from
// "succeeded".
type FailedLoad struct {
	Path string
	Type string
	Err  error
}

type request struct {
	path      string
	typeToken string
}

// Preloader drives one background bulk-load job against its manager. A job is
// created by Start, runs on its own goroutine, and is retired when the next
// Start begins. Individual load failures never abort the job.
type Preloader struct {
	manager *Manager
	logger  *slog.Logger

	mu        sync.Mutex
	queue     []request
	queued    map[request]struct{}
	running   bool
	processed int
	total     int
	succeeded int
	failed    []FailedLoad
	done      chan struct{}
	cancel    context.CancelFunc

	onProgress func(float64)
	onComplete func()
}

// NewPreloader creates a preloader bound to this manager and registers it for
// Cleanup detach.
func (m *Manager) NewPreloader() *Preloader {
	p := &Preloader{
		manager: m,
		logger:  m.logger.With(slog.String("component", "preloader")),
		queued:  make(map[request]struct{}),
	}
	m.registerDriver(p)
	return p
}

// Add appends a pending request. Duplicates of an already queued (path, type)
// pair are no-ops.
func (p *Preloader) Add(path, typeToken string) {
	req := request{path: path, typeToken: typeToken}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queued[req]; ok {
		return
	}
	p.queued[req] = struct{}{}
	p.queue = append(p.queue, req)
}

// AddAll queues every manifest entry.
func (p *Preloader) AddAll(entries []ManifestEntry) {
	for _, entry := range entries {
		p.Add(entry.Path, entry.Type)
	}
}

// PendingCount returns the number of queued requests.
func (p *Preloader) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// OnProgress registers a callback invoked after every processed item with the
// job's fraction complete.
func (p *Preloader) OnProgress(fn func(float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onProgress = fn
}

// OnComplete registers a callback fired exactly once when a job processes its
// whole queue. Cancelled jobs do not fire it.
func (p *Preloader) OnComplete(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onComplete = fn
}

// Start launches the background job. Calling Start while a job is running is
// a no-op; calling it again after completion starts a fresh job over the
// current queue.
func (p *Preloader) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	items := make([]request, len(p.queue))
	copy(items, p.queue)
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.processed = 0
	p.succeeded = 0
	p.failed = nil
	p.total = len(items)
	p.done = make(chan struct{})
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx, items)
}

func (p *Preloader) run(ctx context.Context, items []request) {
	completed := true
	for _, item := range items {
		select {
		case <-ctx.Done():
			completed = false
		default:
		}
		if !completed {
			break
		}

		_, err := p.manager.Load(ctx, item.path, item.typeToken)

		p.mu.Lock()
		p.processed++
		if err != nil {
			p.failed = append(p.failed, FailedLoad{Path: item.path, Type: item.typeToken, Err: err})
		} else {
			p.succeeded++
		}
		progress := p.progressLocked()
		onProgress := p.onProgress
		p.mu.Unlock()

		if err != nil {
			p.logger.Warn("preload item failed",
				slog.String("path", item.path),
				slog.String("type", item.typeToken),
				slog.Any("error", err))
		}
		if onProgress != nil {
			onProgress(progress)
		}
	}

	p.mu.Lock()
	p.running = false
	done := p.done
	onComplete := p.onComplete
	p.mu.Unlock()

	close(done)
	if completed && onComplete != nil {
		onComplete()
	}
}

// Progress reports the fraction of the job's queue processed so far,
// monotonically non-decreasing within a job. An empty queue is complete by
// definition.
func (p *Preloader) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *Preloader) progressLocked() float64 {
	if p.total == 0 {
		return 1.0
	}
	return float64(p.processed) / float64(p.total)
}

// IsComplete reports whether a started job has finished.
func (p *Preloader) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Succeeded returns how many items loaded successfully in the current job.
func (p *Preloader) Succeeded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succeeded
}

// Failed returns a copy of the items that failed in the current job.
func (p *Preloader) Failed() []FailedLoad {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FailedLoad, len(p.failed))
	copy(out, p.failed)
	return out
}

// Wait blocks until the job finishes or the timeout elapses, reporting
// whether it finished. A timeout never cancels the underlying job. A
// non-positive timeout waits indefinitely. Waiting before any Start returns
// false.
func (p *Preloader) Wait(timeout time.Duration) bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Cancel abandons the in-flight job between queue items. Already processed
// items stay processed.
func (p *Preloader) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Preloader) detach() {
	p.Cancel()
	p.manager.unregisterDriver(p)
}
