package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/NVIDIA/emsqrt/internal/spill"
)

func TestDefaultPassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []func(*EngineConfig){
		func(c *EngineConfig) { c.MemCapBytes = 0 },
		func(c *EngineConfig) { c.MaxParallelTasks = 0 },
		func(c *EngineConfig) { c.SpillRoot = "" },
		func(c *EngineConfig) { c.SpillRetryMaxAttempts = 0 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestMarshalLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.SpillCodec = spill.CodecZstd
	cfg.Seed = 42

	buf, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.SpillCodec != spill.CodecZstd || got.Seed != 42 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"seed": 7}`), 0o644); err != nil {
		t.Fatalf("write partial config: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Seed != 7 {
		t.Fatalf("seed = %d, want 7", got.Seed)
	}
	if got.MaxParallelTasks != Default().MaxParallelTasks {
		t.Fatalf("expected omitted max_parallel_tasks to fall back to the default")
	}
}
