package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradegate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "LOG_LEVEL", "TRADEGATE_PAPER_MODE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/tradegate/data"
  sqlite_path: "/tmp/tradegate/tradegate.db"
server:
  host: "127.0.0.1"
  port: 8081
  grpc_port: 9091
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
logging:
  level: "debug"
  format: "text"
trading:
  paper_mode: false
  large_order_threshold: 5000
  default_venue: "iex"
  venues: ["iex", "arca"]
  commission:
    per_share: 0.005
    minimum: 1
compliance:
  default_margin_rate: 0.4
surveillance:
  window: 30m
  scan_interval: 1m
calendar:
  holidays: ["2024-12-25"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.SQLitePath != "/tmp/tradegate/tradegate.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/tradegate/tradegate.db")
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8081)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}
	if cfg.Trading.PaperMode {
		t.Error("Trading.PaperMode = true, want false")
	}
	if cfg.Trading.LargeOrderThreshold != 5000 {
		t.Errorf("Trading.LargeOrderThreshold = %v, want 5000", cfg.Trading.LargeOrderThreshold)
	}
	if cfg.Trading.Commission.PerShare != 0.005 {
		t.Errorf("Trading.Commission.PerShare = %v, want 0.005", cfg.Trading.Commission.PerShare)
	}
	if cfg.Compliance.DefaultMarginRate != 0.4 {
		t.Errorf("Compliance.DefaultMarginRate = %v, want 0.4", cfg.Compliance.DefaultMarginRate)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Compliance.EquityMarginRate != 0.25 {
		t.Errorf("Compliance.EquityMarginRate = %v, want default 0.25", cfg.Compliance.EquityMarginRate)
	}
	if cfg.Surveillance.Window != 30*time.Minute {
		t.Errorf("Surveillance.Window = %v, want 30m", cfg.Surveillance.Window)
	}
	if cfg.Surveillance.WashInterval != 5*time.Minute {
		t.Errorf("Surveillance.WashInterval = %v, want default 5m", cfg.Surveillance.WashInterval)
	}
	if len(cfg.Calendar.Holidays) != 1 || cfg.Calendar.Holidays[0] != "2024-12-25" {
		t.Errorf("Calendar.Holidays = %v, want [2024-12-25]", cfg.Calendar.Holidays)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("TRADEGATE_PAPER_MODE", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Trading.PaperMode {
		t.Error("Trading.PaperMode = true, want false (env override)")
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Trading.PaperMode = false
	cfg.Compliance.DefaultMarginRate = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() returned nil, want errors")
	}
	for _, want := range []string{"server.port", "alpaca credentials", "compliance.default_margin_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %q", err, want)
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}
