package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
roots:
  - path: /data/investors/acme
    investor_code: ACME
  - path: /data/investors/globex
    investor_code: GLOBEX
max_file_size_mb: 50
debounce_seconds: 10
reporting_currency: EUR
tolerances:
  nav_pct: 0.002
  nav_abs: 50
`

const unknownKeyYAML = `
roots:
  - path: /data/investors/acme
    investor_code: ACME
totally_made_up_option: true
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoadAppliesDefaultsAndOverlay(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	path := writeTemp(t, "config.yaml", validYAML)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(cfg.Roots))
	}
	if cfg.MaxFileSizeMB != 50 {
		t.Errorf("MaxFileSizeMB = %d, want 50", cfg.MaxFileSizeMB)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts default not applied: got %d, want 3", cfg.MaxAttempts)
	}
	if cfg.Tolerances.NAVAbs != 50 {
		t.Errorf("Tolerances.NAVAbs overlay failed: got %v, want 50", cfg.Tolerances.NAVAbs)
	}
	if cfg.Tolerances.CommitmentAbs != 1 {
		t.Errorf("Tolerances.CommitmentAbs default not preserved: got %v, want 1", cfg.Tolerances.CommitmentAbs)
	}
	if cfg.ReportingCurrency != "EUR" {
		t.Errorf("ReportingCurrency = %q, want EUR", cfg.ReportingCurrency)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	path := writeTemp(t, "config.yaml", unknownKeyYAML)

	if _, err := Load(path, ""); err == nil {
		t.Fatalf("expected error for unknown key, got nil")
	}
}

func TestValidateRequiresRoots(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://localhost/test"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty roots")
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := Default()
	cfg.Roots = []Root{{Path: "/x", InvestorCode: "X"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing DATABASE_URL")
	}
}
