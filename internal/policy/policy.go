package policy

// Config is the adaptive knob set read by the scheduler and transfer paths.
// It is recomputed periodically by the owning target's monitor; a chunk-size
// change only affects chunks not yet dispatched.
type Config struct {
	Workers        int
	MaxConnections int
	ChunkSize      int64
	BufferSize     int
	UseChunking    bool
}

// Tunable defaults. These are heuristics, not contract; callers may override
// before submitting work.
var (
	MinWorkers = 1
	MaxWorkers = 16

	SmallObjectSize  = int64(100 * 1024)
	MediumObjectSize = int64(1024 * 1024)

	MinChunkSize     = int64(1024 * 1024)
	MaxChunkSize     = int64(32 * 1024 * 1024)
	DefaultChunkSize = int64(8 * 1024 * 1024)

	SmallBufferSize = 64 * 1024
	LargeBufferSize = 1024 * 1024

	// Segment downloads have no useful size signal before the first
	// fetch, so they start from a fixed fan-out instead of Initial.
	SegmentWorkers = 4

	// Hill-climbing bounds on smoothed throughput vs. the observed ceiling
	GrowthHeadroom = 0.30
	CeilingMargin  = 0.05

	// Target seconds of transfer per chunk when retuning chunk size
	chunkSeconds = 4.0
)

// Initial sizes the config as a step function of the object size. A negative
// size means unknown (single stream, no chunking).
func Initial(objectSize int64, maxConnections int) Config {
	if maxConnections < 1 {
		maxConnections = 1
	}
	cfg := Config{
		MaxConnections: maxConnections,
		ChunkSize:      DefaultChunkSize,
		BufferSize:     LargeBufferSize,
	}
	switch {
	case objectSize <= 0:
		cfg.Workers = 1
		cfg.BufferSize = SmallBufferSize
	case objectSize <= SmallObjectSize:
		// Many lightweight workers, useful when units are small segments
		cfg.Workers = min(8, maxConnections)
		cfg.BufferSize = SmallBufferSize
	case objectSize <= MediumObjectSize:
		cfg.Workers = min(4, maxConnections)
		cfg.BufferSize = SmallBufferSize
	default:
		cfg.Workers = min(max(maxConnections/2, 2), maxConnections)
		cfg.UseChunking = true
	}
	cfg.Workers = clampWorkers(cfg.Workers)
	return cfg
}

// Recompute applies one hill-climbing step from smoothed throughput. It only
// ever moves the worker count by 1-2 per interval to avoid oscillation, and
// it never acts without a usable smoothed reading.
func Recompute(cfg Config, objectSize int64, smoothed, ceiling float64) Config {
	out := cfg
	if smoothed <= 0 || ceiling <= 0 {
		return out
	}
	if smoothed < ceiling*(1-GrowthHeadroom) && cfg.Workers < MaxWorkers {
		out.Workers = clampWorkers(cfg.Workers + 2)
	} else if smoothed > ceiling*(1-CeilingMargin) && cfg.Workers > MinWorkers {
		out.Workers = clampWorkers(cfg.Workers - 1)
	}
	if out.UseChunking {
		out.ChunkSize = tuneChunkSize(smoothed)
	}
	return out
}

// tuneChunkSize picks a chunk covering a few seconds of transfer at the
// current smoothed speed: faster links get bigger chunks (fewer round
// trips), slower links get smaller ones (finer retry blast radius).
func tuneChunkSize(smoothed float64) int64 {
	size := int64(smoothed * chunkSeconds)
	if size < MinChunkSize {
		return MinChunkSize
	}
	if size > MaxChunkSize {
		return MaxChunkSize
	}
	return size
}

func clampWorkers(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}
