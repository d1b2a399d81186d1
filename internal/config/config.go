package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// RiskLimits is the process-wide risk configuration. Loaded once at
// startup, read-only during a run.
type RiskLimits struct {
	RiskPerTradeFraction   float64       `yaml:"risk_per_trade_fraction"`
	MaxAllocationFraction  float64       `yaml:"max_allocation_fraction"`
	DefaultStopLossPct     float64       `yaml:"default_stop_loss_pct"`
	DefaultTakeProfitPct   float64       `yaml:"default_take_profit_pct"`
	MaxHoldingDuration     time.Duration `yaml:"max_holding_duration"`
	TrailingActivationPct  float64       `yaml:"trailing_activation_pct"`
	TrailingTrailPct       float64       `yaml:"trailing_trail_pct"`
	TrailingATRMultiple    float64       `yaml:"trailing_atr_multiple"`
	CooldownCandles        int           `yaml:"cooldown_candles"`
	MinConfidence          float64       `yaml:"min_confidence"`
	MinRiskReward          float64       `yaml:"min_risk_reward"`
	MaxCorrelatedPositions int           `yaml:"max_correlated_positions"`
	MaxDrawdownPct         float64       `yaml:"max_drawdown_pct"`
	FeeRate                float64       `yaml:"fee_rate"`
	SlippageRate           float64       `yaml:"slippage_rate"`
	MinNotional            float64       `yaml:"min_notional"`
	AllowShort             bool          `yaml:"allow_short"`
}

// Preset returns a named RiskLimits baseline. Unknown names fall back to
// moderate.
func Preset(name string) RiskLimits {
	switch name {
	case "conservative":
		return RiskLimits{
			RiskPerTradeFraction:   0.01,
			MaxAllocationFraction:  0.20,
			DefaultStopLossPct:     2,
			DefaultTakeProfitPct:   4,
			MaxHoldingDuration:     48 * time.Hour,
			TrailingActivationPct:  12,
			TrailingTrailPct:       5,
			CooldownCandles:        24,
			MinConfidence:          0.70,
			MinRiskReward:          2.0,
			MaxCorrelatedPositions: 1,
			MaxDrawdownPct:         10,
			FeeRate:                0.001,
			SlippageRate:           0.0005,
			MinNotional:            10,
		}
	case "aggressive":
		return RiskLimits{
			RiskPerTradeFraction:   0.08,
			MaxAllocationFraction:  0.80,
			DefaultStopLossPct:     4,
			DefaultTakeProfitPct:   8,
			MaxHoldingDuration:     168 * time.Hour,
			TrailingActivationPct:  10,
			TrailingTrailPct:       4,
			CooldownCandles:        6,
			MinConfidence:          0.55,
			MinRiskReward:          1.2,
			MaxCorrelatedPositions: 3,
			MaxDrawdownPct:         20,
			FeeRate:                0.001,
			SlippageRate:           0.0005,
			MinNotional:            10,
		}
	default: // moderate
		return RiskLimits{
			RiskPerTradeFraction:   0.05,
			MaxAllocationFraction:  0.60,
			DefaultStopLossPct:     3,
			DefaultTakeProfitPct:   5,
			MaxHoldingDuration:     72 * time.Hour,
			TrailingActivationPct:  12,
			TrailingTrailPct:       5,
			CooldownCandles:        6,
			MinConfidence:          0.65,
			MinRiskReward:          2.0,
			MaxCorrelatedPositions: 2,
			MaxDrawdownPct:         15,
			FeeRate:                0.001,
			SlippageRate:           0.0005,
			MinNotional:            10,
		}
	}
}

// Instrument configures one tracked symbol: its correlation group and the
// weight table for its registered strategies.
type Instrument struct {
	Symbol           string             `yaml:"symbol"`
	CorrelationGroup string             `yaml:"correlation_group"`
	StrategyWeights  map[string]float64 `yaml:"strategy_weights"`
}

type Config struct {
	InitialBalance float64      `yaml:"initial_balance"`
	RiskPreset     string       `yaml:"risk_preset"`
	Risk           RiskLimits   `yaml:"risk"`
	Instruments    []Instrument `yaml:"instruments"`

	Exchange struct {
		WSEndpoint   string `yaml:"ws_endpoint"`
		RESTEndpoint string `yaml:"rest_endpoint"`
	} `yaml:"exchange"`

	Ledger struct {
		Path string `yaml:"path"`
	} `yaml:"ledger"`

	Logging struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
}

// envOverrides are the few settings that may come from the environment
// instead of the file (deployment paths and endpoints, never risk knobs).
type envOverrides struct {
	LedgerPath string `envconfig:"LEDGER_PATH"`
	WSEndpoint string `envconfig:"WS_ENDPOINT"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
}

// Load reads the yaml file, layers the named risk preset under any
// explicit risk settings, applies TRADECORE_* env overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// First pass: preset name only, so explicit risk keys can override it.
	var head struct {
		RiskPreset string `yaml:"risk_preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	cfg := &Config{Risk: Preset(head.RiskPreset)}
	cfg.InitialBalance = 2000
	cfg.Logging.Level = "info"
	cfg.Logging.Encoding = "json"

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	var env envOverrides
	if err := envconfig.Process("tradecore", &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	if env.LedgerPath != "" {
		cfg.Ledger.Path = env.LedgerPath
	}
	if env.WSEndpoint != "" {
		cfg.Exchange.WSEndpoint = env.WSEndpoint
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects malformed configuration at load time. Anything that
// passes here is safe to treat as an invariant during the run.
func (c *Config) Validate() error {
	r := c.Risk
	if c.InitialBalance <= 0 {
		return fmt.Errorf("%w: initial_balance must be positive", domain.ErrConfig)
	}
	if r.RiskPerTradeFraction <= 0 || r.RiskPerTradeFraction > 1 {
		return fmt.Errorf("%w: risk_per_trade_fraction must be in (0,1]", domain.ErrConfig)
	}
	if r.MaxAllocationFraction <= 0 || r.MaxAllocationFraction > 1 {
		return fmt.Errorf("%w: max_allocation_fraction must be in (0,1]", domain.ErrConfig)
	}
	if r.MinRiskReward < 1 {
		return fmt.Errorf("%w: min_risk_reward must be >= 1", domain.ErrConfig)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0,1]", domain.ErrConfig)
	}
	if r.MaxCorrelatedPositions < 1 {
		return fmt.Errorf("%w: max_correlated_positions must be >= 1", domain.ErrConfig)
	}
	if r.CooldownCandles < 0 {
		return fmt.Errorf("%w: cooldown_candles must be >= 0", domain.ErrConfig)
	}
	if r.MaxHoldingDuration <= 0 {
		return fmt.Errorf("%w: max_holding_duration must be positive", domain.ErrConfig)
	}
	if r.FeeRate < 0 || r.SlippageRate < 0 {
		return fmt.Errorf("%w: fee_rate and slippage_rate must be >= 0", domain.ErrConfig)
	}
	if r.TrailingActivationPct < 0 || r.TrailingTrailPct < 0 || r.TrailingATRMultiple < 0 {
		return fmt.Errorf("%w: trailing parameters must be >= 0", domain.ErrConfig)
	}

	for _, ins := range c.Instruments {
		if ins.Symbol == "" {
			return fmt.Errorf("%w: instrument without symbol", domain.ErrConfig)
		}
		total := 0.0
		for name, w := range ins.StrategyWeights {
			if w < 0 {
				return fmt.Errorf("%w: %s: negative weight for %q", domain.ErrConfig, ins.Symbol, name)
			}
			total += w
		}
		if len(ins.StrategyWeights) > 0 && total <= 0 {
			return fmt.Errorf("%w: %s: strategy weights must sum to a positive total", domain.ErrConfig, ins.Symbol)
		}
	}
	return nil
}
