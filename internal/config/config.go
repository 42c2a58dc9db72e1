package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradegate.
type Config struct {
	Storage      Storage            `yaml:"storage"`
	Server       Server             `yaml:"server"`
	Alpaca       Alpaca             `yaml:"alpaca"`
	Logging      Logging            `yaml:"logging"`
	Trading      TradingConfig      `yaml:"trading"`
	Compliance   ComplianceConfig   `yaml:"compliance"`
	Surveillance SurveillanceConfig `yaml:"surveillance"`
	Calendar     CalendarConfig     `yaml:"calendar"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for market data, asset reference
// and order routing. RateLimitPerMin caps market data and asset requests.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Enabled reports whether credentials are configured.
func (a Alpaca) Enabled() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Commission is the per-fill charge applied to synthesized fills.
type Commission struct {
	PerShare float64 `yaml:"per_share"`
	Minimum  float64 `yaml:"minimum"`
}

// TradingConfig defines routing and execution parameters.
type TradingConfig struct {
	// PaperMode routes through the simulator and prices from static quotes.
	PaperMode           bool       `yaml:"paper_mode"`
	LargeOrderThreshold float64    `yaml:"large_order_threshold"`
	DefaultVenue        string     `yaml:"default_venue"`
	Venues              []string   `yaml:"venues"`
	Commission          Commission `yaml:"commission"`
	SECFeeRate          float64    `yaml:"sec_fee_rate"`
}

// ComplianceConfig holds the gate's rates and thresholds.
type ComplianceConfig struct {
	EquityMarginRate     float64       `yaml:"equity_margin_rate"`
	DefaultMarginRate    float64       `yaml:"default_margin_rate"`
	FuturesMarginRate    float64       `yaml:"futures_margin_rate"`
	OptionShortUnderPct  float64       `yaml:"option_short_underlying_pct"`
	OptionShortFloorPct  float64       `yaml:"option_short_floor_pct"`
	PDTMinEquity         float64       `yaml:"pdt_min_equity"`
	PDTRoundTrips        int           `yaml:"pdt_round_trips"`
	PDTWindowDays        int           `yaml:"pdt_window_days"`
	SSRDropPct           float64       `yaml:"ssr_drop_pct"`
	CircuitBreakerLevels []float64     `yaml:"circuit_breaker_levels"`
	CircuitBreakerHalt   time.Duration `yaml:"circuit_breaker_halt"`
}

// SurveillanceConfig controls the manipulation detectors and scan schedule.
type SurveillanceConfig struct {
	Window             time.Duration `yaml:"window"`
	ScanInterval       time.Duration `yaml:"scan_interval"`
	WashInterval       time.Duration `yaml:"wash_interval"`
	WashPriceTolerance float64       `yaml:"wash_price_tolerance"`
	SpoofMinCancels    int           `yaml:"spoof_min_cancels"`
	SpoofVolumeRatio   float64       `yaml:"spoof_volume_ratio"`
	LayeringMinOrders  int           `yaml:"layering_min_orders"`
	LayeringMinLevels  int           `yaml:"layering_min_levels"`
	CloseWindow        time.Duration `yaml:"close_window"`
	CloseMinTrades     int           `yaml:"close_min_trades"`
}

// CalendarConfig sets the exchange time zone and full-day holidays.
type CalendarConfig struct {
	Timezone string   `yaml:"timezone"`
	Holidays []string `yaml:"holidays"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns a configuration with every field set to its documented
// default. Load overlays the YAML file on top of it.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/tradegate.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			BaseURL:         "https://paper-api.alpaca.markets",
			RateLimitPerMin: 200,
		},
		Logging: Logging{Level: "info", Format: "json"},
		Trading: TradingConfig{
			PaperMode:           true,
			LargeOrderThreshold: 10000,
			DefaultVenue:        "primary",
			Venues:              []string{"primary", "arca", "iex"},
		},
		Compliance: ComplianceConfig{
			EquityMarginRate:     0.25,
			DefaultMarginRate:    0.50,
			FuturesMarginRate:    0.10,
			OptionShortUnderPct:  0.20,
			OptionShortFloorPct:  0.10,
			PDTMinEquity:         25000,
			PDTRoundTrips:        4,
			PDTWindowDays:        5,
			SSRDropPct:           0.10,
			CircuitBreakerLevels: []float64{0.07, 0.13, 0.20},
			CircuitBreakerHalt:   15 * time.Minute,
		},
		Surveillance: SurveillanceConfig{
			Window:             time.Hour,
			ScanInterval:       5 * time.Minute,
			WashInterval:       5 * time.Minute,
			WashPriceTolerance: 0.01,
			SpoofMinCancels:    10,
			SpoofVolumeRatio:   10,
			LayeringMinOrders:  3,
			LayeringMinLevels:  3,
			CloseWindow:        15 * time.Minute,
			CloseMinTrades:     5,
		},
		Calendar: CalendarConfig{Timezone: "America/New_York"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path over Default(), applies
// environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path is required"))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive, got %d", c.Server.Port))
	}
	if c.Trading.LargeOrderThreshold <= 0 {
		errs = append(errs, errors.New("trading.large_order_threshold must be positive"))
	}
	if c.Trading.DefaultVenue == "" {
		errs = append(errs, errors.New("trading.default_venue is required"))
	}
	if !c.Trading.PaperMode && !c.Alpaca.Enabled() {
		errs = append(errs, errors.New("alpaca credentials are required when trading.paper_mode is false"))
	}
	for name, rate := range map[string]float64{
		"compliance.equity_margin_rate":  c.Compliance.EquityMarginRate,
		"compliance.default_margin_rate": c.Compliance.DefaultMarginRate,
		"compliance.futures_margin_rate": c.Compliance.FuturesMarginRate,
	} {
		if rate <= 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %v", name, rate))
		}
	}
	if n := len(c.Compliance.CircuitBreakerLevels); n != 3 {
		errs = append(errs, fmt.Errorf("compliance.circuit_breaker_levels needs 3 thresholds, got %d", n))
	}
	if c.Surveillance.Window <= 0 {
		errs = append(errs, errors.New("surveillance.window must be positive"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRADEGATE_PAPER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.PaperMode = b
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
