package policy

import "testing"

func TestInitialBuckets(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		conns    int
		chunking bool
	}{
		{"unknown size", -1, 8, false},
		{"small object", 50 * 1024, 8, false},
		{"medium object", 512 * 1024, 8, false},
		{"large object", 100 * 1024 * 1024, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Initial(tt.size, tt.conns)
			if cfg.UseChunking != tt.chunking {
				t.Errorf("UseChunking = %v, want %v", cfg.UseChunking, tt.chunking)
			}
			if cfg.Workers < MinWorkers || cfg.Workers > MaxWorkers {
				t.Errorf("Workers = %d outside [%d, %d]", cfg.Workers, MinWorkers, MaxWorkers)
			}
			if cfg.MaxConnections != tt.conns {
				t.Errorf("MaxConnections = %d, want %d", cfg.MaxConnections, tt.conns)
			}
		})
	}
}

func TestInitialUnknownSizeIsSingleStream(t *testing.T) {
	cfg := Initial(-1, 16)
	if cfg.Workers != 1 {
		t.Errorf("unknown size should use one worker, got %d", cfg.Workers)
	}
}

func TestRecomputeGrowsWithHeadroom(t *testing.T) {
	cfg := Initial(100*1024*1024, 8)
	before := cfg.Workers
	out := Recompute(cfg, 100*1024*1024, 1_000_000, 10_000_000)
	if out.Workers <= before {
		t.Errorf("expected worker growth, got %d -> %d", before, out.Workers)
	}
	if out.Workers > before+2 {
		t.Errorf("grew by more than 2: %d -> %d", before, out.Workers)
	}
}

func TestRecomputeShrinksNearCeiling(t *testing.T) {
	cfg := Initial(100*1024*1024, 8)
	before := cfg.Workers
	out := Recompute(cfg, 100*1024*1024, 9_900_000, 10_000_000)
	if out.Workers != before-1 {
		t.Errorf("expected shrink by 1, got %d -> %d", before, out.Workers)
	}
}

func TestRecomputeIgnoresMissingMetrics(t *testing.T) {
	cfg := Initial(100*1024*1024, 8)
	out := Recompute(cfg, 100*1024*1024, 0, 0)
	if out != cfg {
		t.Errorf("recompute moved without metrics: %+v -> %+v", cfg, out)
	}
}

func TestRecomputeRespectsBounds(t *testing.T) {
	cfg := Config{Workers: MaxWorkers, MaxConnections: 64, UseChunking: true, ChunkSize: DefaultChunkSize}
	out := Recompute(cfg, 1<<30, 1_000_000, 100_000_000)
	if out.Workers > MaxWorkers {
		t.Errorf("exceeded MaxWorkers: %d", out.Workers)
	}
	cfg.Workers = MinWorkers
	out = Recompute(cfg, 1<<30, 9_999_999, 10_000_000)
	if out.Workers < MinWorkers {
		t.Errorf("went below MinWorkers: %d", out.Workers)
	}
}

func TestChunkSizeTracksSpeed(t *testing.T) {
	cfg := Config{Workers: 4, MaxConnections: 8, UseChunking: true, ChunkSize: DefaultChunkSize}
	slow := Recompute(cfg, 1<<30, 100_000, 10_000_000)
	fast := Recompute(cfg, 1<<30, 5_000_000, 10_000_000)
	if slow.ChunkSize != MinChunkSize {
		t.Errorf("slow link chunk = %d, want floor %d", slow.ChunkSize, MinChunkSize)
	}
	if fast.ChunkSize <= slow.ChunkSize {
		t.Errorf("faster link should get bigger chunks: %d vs %d", fast.ChunkSize, slow.ChunkSize)
	}
	huge := Recompute(cfg, 1<<30, 1e9, 2e9)
	if huge.ChunkSize != MaxChunkSize {
		t.Errorf("chunk not capped: %d", huge.ChunkSize)
	}
}
