package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// minChunkSize is the floor for streaming reads.
const minChunkSize = 1024

// defaultChunkSize keeps per-chunk latency low without thrashing the reader.
const defaultChunkSize = 64 * 1024

// Streamer loads large assets incrementally in bounded chunks, advancing a
// per-asset fraction as chunks complete instead of flipping from 0 to 1. Once
// all chunks have arrived the assembled bytes take the manager's normal
// pipeline+decode+cache path.
type Streamer struct {
	manager *Manager
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	chunkSize int64
	fractions map[string]float64
	errs      map[string]error
	wg        sync.WaitGroup
}

// NewStreamer creates a streamer bound to this manager and registers it for
// Cleanup detach.
func (m *Manager) NewStreamer() *Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Streamer{
		manager:   m,
		logger:    m.logger.With(slog.String("component", "streamer")),
		ctx:       ctx,
		cancel:    cancel,
		chunkSize: defaultChunkSize,
		fractions: make(map[string]float64),
		errs:      make(map[string]error),
	}
	m.registerDriver(s)
	return s
}

// SetChunkSize configures the read granularity, floored at 1KiB.
func (s *Streamer) SetChunkSize(bytes int64) {
	if bytes < minChunkSize {
		bytes = minChunkSize
	}
	s.mu.Lock()
	s.chunkSize = bytes
	s.mu.Unlock()
}

// ChunkSize returns the configured read granularity.
func (s *Streamer) ChunkSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkSize
}

// Stream begins loading (path, type) on a background goroutine. The request
// is tracked immediately at fraction 0; the type token is validated up front
// so a bad request fails fast instead of inside the job.
func (s *Streamer) Stream(path, typeToken string) error {
	assetType, err := ParseType(typeToken)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.fractions[path] = 0
	delete(s.errs, path)
	chunkSize := s.chunkSize
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.streamOne(s.ctx, path, assetType, chunkSize); err != nil {
			s.mu.Lock()
			s.errs[path] = err
			s.fractions[path] = 1.0
			s.mu.Unlock()
			s.logger.Warn("stream failed",
				slog.String("path", path),
				slog.String("type", string(assetType)),
				slog.Any("error", err))
		}
	}()
	return nil
}

func (s *Streamer) streamOne(ctx context.Context, path string, assetType Type, chunkSize int64) error {
	resolved := s.manager.resolve(path)
	f, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("assets: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("assets: stat %s: %w", path, err)
	}
	total := info.Size()

	data := make([]byte, 0, total)
	buf := make([]byte, chunkSize)
	var read int64
	for {
		// Chunk boundaries are the job's cancellation points.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := f.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			read += int64(n)
			s.setFraction(path, chunkFraction(read, total))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("assets: read %s: %w", path, err)
		}
	}

	if _, err := s.manager.storeDecoded(ctx, path, assetType, data); err != nil {
		return err
	}
	s.setFraction(path, 1.0)
	return nil
}

// chunkFraction holds just below 1.0 until the decode+insert commits, so a
// reader polling progress never sees "done" for an asset that is not yet
// cached.
func chunkFraction(read, total int64) float64 {
	if total <= 0 {
		return 0.99
	}
	fraction := float64(read) / float64(total)
	if fraction > 0.99 {
		fraction = 0.99
	}
	return fraction
}

func (s *Streamer) setFraction(path string, fraction float64) {
	s.mu.Lock()
	if fraction > s.fractions[path] {
		s.fractions[path] = fraction
	}
	s.mu.Unlock()
}

// Progress reports the mean of all tracked per-asset fractions, 1.0 when
// nothing has been streamed. A failed stream counts as processed and reads as
// 1.0 so one bad asset never pins the mean below complete; Failed tells the
// two apart.
func (s *Streamer) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fractions) == 0 {
		return 1.0
	}
	var sum float64
	for _, fraction := range s.fractions {
		sum += fraction
	}
	return sum / float64(len(s.fractions))
}

// AssetProgress reports one asset's fraction.
func (s *Streamer) AssetProgress(path string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fractions[path]
}

// Failed returns a copy of the per-asset failures.
func (s *Streamer) Failed() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.errs))
	for path, err := range s.errs {
		out[path] = err
	}
	return out
}

// Wait blocks until all in-flight streams finish or the timeout elapses,
// reporting whether they finished. The timeout never cancels the jobs.
func (s *Streamer) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
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

// Cancel abandons in-flight streams at their next chunk boundary.
func (s *Streamer) Cancel() {
	s.cancel()
}

func (s *Streamer) detach() {
	s.Cancel()
	s.manager.unregisterDriver(s)
}
