package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Clustering.SimilarityThreshold != 0.78 {
		t.Errorf("similarity threshold default = %f, want 0.78", cfg.Clustering.SimilarityThreshold)
	}
	if cfg.Selection.KGlobal != 10 {
		t.Errorf("k_global default = %d, want 10", cfg.Selection.KGlobal)
	}
	if cfg.Pipeline.WindowHours != 24 {
		t.Errorf("window_hours default = %d, want 24", cfg.Pipeline.WindowHours)
	}
	if cfg.Clustering.Strategy != "incremental" {
		t.Errorf("strategy default = %q, want incremental", cfg.Clustering.Strategy)
	}
}

func TestLoadFromFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "trender.yaml")
	content := `
clustering:
  similarity_threshold: 0.85
selection:
  k_global: 3
pipeline:
  window_hours: 6
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Clustering.SimilarityThreshold != 0.85 {
		t.Errorf("similarity threshold = %f, want 0.85", cfg.Clustering.SimilarityThreshold)
	}
	if cfg.Selection.KGlobal != 3 {
		t.Errorf("k_global = %d, want 3", cfg.Selection.KGlobal)
	}
	if cfg.Pipeline.WindowHours != 6 {
		t.Errorf("window_hours = %d, want 6", cfg.Pipeline.WindowHours)
	}
	// Untouched sections keep their defaults.
	if cfg.Scoring.TauHours != 12.0 {
		t.Errorf("tau_hours = %f, want default 12", cfg.Scoring.TauHours)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "trender.yaml")
	content := `
clustering:
  similarity_threshold: 1.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error for out-of-range threshold")
	}
}
