package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/assetflow/assetflow/internal/assets/cache"
	"github.com/assetflow/assetflow/internal/assets/pipeline"
	"github.com/assetflow/assetflow/internal/assets/version"
	"github.com/assetflow/assetflow/internal/metrics"
)

// Options configures a Manager. Zero values select sane defaults: a discard
// logger, an in-memory version store, no pipeline stage and no metrics.
type Options struct {
	// BasePath is the directory relative paths resolve against. Empty
	// selects an "assets" directory next to the running binary.
	BasePath string
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Versions version.Store
	Pipeline *pipeline.Pipeline
}

// Manager orchestrates the cache store, the version store and the processing
// pipeline behind one synchronous Load entry point. Preloaders, streamers and
// remote loaders created through the factory methods are tracked so Cleanup
// can detach them.
type Manager struct {
	logger     *slog.Logger
	metrics    *metrics.Recorder
	basePath   string
	cache      *cache.Store
	versions   version.Store
	migrations *version.Migrations
	pipeline   *pipeline.Pipeline
	codec      *codec

	// flights serializes the miss path and version registration per asset
	// identifier, so a slow load can never re-insert an entry that a
	// concurrent version change just invalidated.
	flightMu sync.Mutex
	flights  map[string]*flightLock

	driversMu sync.Mutex
	drivers   map[driver]struct{}
}

// driver is anything Cleanup must detach: preloaders, streamers, remote
// loaders.
type driver interface {
	detach()
}

type flightLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager wires the cache, version store, codec and pipeline together.
func NewManager(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	versions := opts.Versions
	if versions == nil {
		versions = version.NewMemory()
	}
	basePath := opts.BasePath
	if basePath == "" {
		basePath = defaultBasePath()
	}
	codec, err := newCodec()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger:     logger.With(slog.String("component", "manager")),
		metrics:    opts.Metrics,
		basePath:   basePath,
		cache:      cache.NewStore(),
		versions:   versions,
		migrations: version.NewMigrations(),
		pipeline:   opts.Pipeline,
		codec:      codec,
		flights:    make(map[string]*flightLock),
		drivers:    make(map[driver]struct{}),
	}
	m.cache.OnEvict(func(key cache.Key) {
		m.metrics.ObserveEviction(key.Type)
	})
	return m, nil
}

// BasePath returns the configured asset root.
func (m *Manager) BasePath() string { return m.basePath }

// defaultBasePath points at an "assets" directory next to the running binary,
// falling back to a relative path when the executable cannot be resolved.
func defaultBasePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "assets"
	}
	return filepath.Join(filepath.Dir(exe), "assets")
}

// resolve maps a request path onto the filesystem. Absolute paths pass
// through untouched.
func (m *Manager) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.basePath, path)
}

// acquireFlight locks the per-asset flight lock and returns its release
// function. Locks are reference counted so the map does not grow with every
// asset ever loaded.
func (m *Manager) acquireFlight(assetID string) func() {
	m.flightMu.Lock()
	fl, ok := m.flights[assetID]
	if !ok {
		fl = &flightLock{}
		m.flights[assetID] = fl
	}
	fl.refs++
	m.flightMu.Unlock()

	fl.mu.Lock()
	return func() {
		fl.mu.Unlock()
		m.flightMu.Lock()
		fl.refs--
		if fl.refs == 0 {
			delete(m.flights, assetID)
		}
		m.flightMu.Unlock()
	}
}

// Load returns the asset for (path, type), serving from cache when resident.
// On a miss the path is resolved against the base directory, run through the
// pipeline when one is configured, decoded according to type and inserted.
// Failures are reported as wrapped sentinel errors, never panics.
func (m *Manager) Load(ctx context.Context, path, typeToken string) (*Asset, error) {
	start := time.Now()

	assetType, err := ParseType(typeToken)
	if err != nil {
		m.metrics.ObserveLoad(typeToken, metrics.LoadError, time.Since(start))
		return nil, err
	}

	release := m.acquireFlight(path)
	defer release()

	key := cache.Key{Path: path, Type: string(assetType)}
	if value, ok := m.cache.Get(key); ok {
		m.metrics.ObserveLoad(string(assetType), metrics.LoadHit, time.Since(start))
		return value.(*Asset), nil
	}

	asset, err := m.loadMiss(ctx, path, assetType)
	if err != nil {
		m.metrics.ObserveLoad(string(assetType), metrics.LoadError, time.Since(start))
		return nil, err
	}
	m.metrics.ObserveLoad(string(assetType), metrics.LoadMiss, time.Since(start))
	return asset, nil
}

// loadMiss runs the miss path under the caller's flight lock.
func (m *Manager) loadMiss(ctx context.Context, path string, assetType Type) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := m.resolve(path)
	var data []byte
	var err error
	if m.pipeline != nil {
		if err := m.pipeline.Validate(resolved, string(assetType)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrValidation, path, err)
		}
		data, err = m.pipeline.Process(resolved, string(assetType))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, path, err)
		}
	} else {
		data, err = os.ReadFile(resolved)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return nil, fmt.Errorf("assets: read %s: %w", path, err)
		}
	}

	return m.storeDecodedLocked(path, assetType, data)
}

// storeDecodedLocked decodes and inserts bytes for path. Callers must hold the
// asset's flight lock.
func (m *Manager) storeDecodedLocked(path string, assetType Type, data []byte) (*Asset, error) {
	asset, err := decode(path, assetType, data)
	if err != nil {
		return nil, err
	}

	key := cache.Key{Path: path, Type: string(assetType)}
	if err := m.cache.Put(key, path, asset, asset.SizeEstimate); err != nil {
		if errors.Is(err, cache.ErrEntryTooLarge) {
			// The asset still loads; it just cannot be retained.
			m.logger.Warn("asset exceeds cache budget, returned uncached",
				slog.String("path", path),
				slog.Int64("size", asset.SizeEstimate))
			return asset, nil
		}
		return nil, fmt.Errorf("assets: cache %s: %w", path, err)
	}
	return asset, nil
}

// storeDecoded is the streamer's entry into the decode+insert path; it takes
// the flight lock itself.
func (m *Manager) storeDecoded(ctx context.Context, path string, assetType Type, data []byte) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release := m.acquireFlight(path)
	defer release()

	if m.pipeline != nil {
		processed, err := m.pipeline.ProcessBytes(data, path, string(assetType))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, path, err)
		}
		data = processed
	}
	return m.storeDecodedLocked(path, assetType, data)
}

// LoadOrPlaceholder degrades gracefully: on any image load failure it returns
// the magenta placeholder handle instead of an error. The placeholder is
// never cached.
func (m *Manager) LoadOrPlaceholder(ctx context.Context, path, typeToken string) *Asset {
	asset, err := m.Load(ctx, path, typeToken)
	if err != nil {
		m.logger.Warn("load failed, substituting placeholder",
			slog.String("path", path),
			slog.String("type", typeToken),
			slog.Any("error", err))
		return Placeholder(path)
	}
	return asset
}

// SetAssetVersion hashes the asset's current bytes and records the version.
// When a prior record exists with a different content hash, every cache entry
// attributed to assetID is invalidated before the new record is stored. The
// flight lock serializes this against concurrent loads of the same asset.
func (m *Manager) SetAssetVersion(ctx context.Context, assetID, versionLabel string) error {
	resolved := m.resolve(assetID)
	hash, err := version.HashFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, assetID)
		}
		return err
	}

	release := m.acquireFlight(assetID)
	defer release()

	prior, ok, err := m.versions.Lookup(ctx, assetID)
	if err != nil {
		return fmt.Errorf("assets: version lookup %s: %w", assetID, err)
	}
	if ok && prior.ContentHash != hash {
		removed := m.cache.InvalidateAsset(assetID)
		m.metrics.ObserveInvalidation(removed)
		m.logger.Info("content change invalidated cache entries",
			slog.String("asset", assetID),
			slog.String("from", prior.Version),
			slog.String("to", versionLabel),
			slog.Int("removed", removed))
	}

	record := version.Record{
		AssetID:     assetID,
		Version:     versionLabel,
		ContentHash: hash,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := m.versions.Store(ctx, record); err != nil {
		return fmt.Errorf("assets: version store %s: %w", assetID, err)
	}
	return nil
}

// AssetVersion returns the recorded version for assetID.
func (m *Manager) AssetVersion(ctx context.Context, assetID string) (version.Record, bool, error) {
	return m.versions.Lookup(ctx, assetID)
}

// RegisterMigration records a version-to-version asset transform. Migrations
// are applied only through ApplyMigrations; the version-change path never
// runs them automatically.
func (m *Manager) RegisterMigration(from, to string, fn version.MigrationFunc) error {
	return m.migrations.Register(from, to, fn)
}

// ApplyMigrations walks the registered transform chain between two version
// labels.
func (m *Manager) ApplyMigrations(asset any, from, to string) (any, error) {
	return m.migrations.Apply(asset, from, to)
}

// SetCacheSizeLimit declares the byte budget for one asset type. The budget
// is enforced on every subsequent insert and immediately against the current
// resident set.
func (m *Manager) SetCacheSizeLimit(typeToken string, limitBytes int64) error {
	assetType, err := ParseType(typeToken)
	if err != nil {
		return err
	}
	m.cache.SetLimit(string(assetType), limitBytes)
	return nil
}

// CacheSizeLimit returns the configured byte budget for one asset type
// (0 when unbounded).
func (m *Manager) CacheSizeLimit(typeToken string) int64 {
	return m.cache.Limit(typeToken)
}

// EnableCompression switches on the compression policy for one kind.
// Enabling "none" clears every policy.
func (m *Manager) EnableCompression(kindToken string) error {
	kind, err := ParseCompressionKind(kindToken)
	if err != nil {
		return err
	}
	m.codec.enable(kind)
	return nil
}

// CompressionEnabled reports whether a kind's policy is active.
func (m *Manager) CompressionEnabled(kindToken string) bool {
	kind, err := ParseCompressionKind(kindToken)
	if err != nil {
		return false
	}
	return m.codec.isEnabled(kind)
}

// CompressAsset reads the resolved file and compresses it under the kind's
// policy. Disabled kinds return the bytes unchanged; that passthrough is the
// documented contract, not a pretend compression.
func (m *Manager) CompressAsset(path, kindToken string) ([]byte, error) {
	kind, err := ParseCompressionKind(kindToken)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("assets: read %s: %w", path, err)
	}
	return m.codec.compress(data, kind), nil
}

// DecompressAsset inverts CompressAsset. Plain bytes pass through.
func (m *Manager) DecompressAsset(data []byte) ([]byte, error) {
	return m.codec.decompress(data)
}

// CompressionStats returns codec activity counters.
func (m *Manager) CompressionStats() CompressionStats {
	return m.codec.statsSnapshot()
}

// CacheStats returns a read-only snapshot of the cache counters.
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}

// Statistics is the aggregate read-only view served to operators.
type Statistics struct {
	TotalAssets      int            `json:"totalAssets"`
	CacheSizeBytes   int64          `json:"cacheSizeBytes"`
	Hits             uint64         `json:"hits"`
	Misses           uint64         `json:"misses"`
	Evictions        uint64         `json:"evictions"`
	TypeCounts       map[string]int `json:"typeCounts"`
	CompressionRatio float64        `json:"compressionRatio"`
	CompressionSaved int64          `json:"compressionSaved"`
}

// Statistics assembles the aggregate snapshot. It never mutates state.
func (m *Manager) Statistics() Statistics {
	stats := m.cache.Stats()
	comp := m.codec.statsSnapshot()
	return Statistics{
		TotalAssets:      stats.Entries,
		CacheSizeBytes:   stats.SizeBytes,
		Hits:             stats.Hits,
		Misses:           stats.Misses,
		Evictions:        stats.Evictions,
		TypeCounts:       m.cache.TypeCounts(),
		CompressionRatio: comp.Ratio(),
		CompressionSaved: comp.SpaceSaved(),
	}
}

// Cleanup is a full reset: every cache entry is dropped, size accounting and
// the hit/miss counters return to zero, compression stats reset, and every
// live preloader, streamer and remote loader created by this manager is
// detached. Version records survive; they describe content, not cache state.
func (m *Manager) Cleanup() {
	m.driversMu.Lock()
	drivers := make([]driver, 0, len(m.drivers))
	for d := range m.drivers {
		drivers = append(drivers, d)
	}
	m.drivers = make(map[driver]struct{})
	m.driversMu.Unlock()

	for _, d := range drivers {
		d.detach()
	}

	m.cache.Clear()
	m.codec.reset()
	m.logger.Info("manager cleanup complete", slog.Int("drivers_detached", len(drivers)))
}

func (m *Manager) registerDriver(d driver) {
	m.driversMu.Lock()
	defer m.driversMu.Unlock()
	m.drivers[d] = struct{}{}
}

func (m *Manager) unregisterDriver(d driver) {
	m.driversMu.Lock()
	defer m.driversMu.Unlock()
	delete(m.drivers, d)
}
