package risk

import (
	"fmt"
	"sort"
	"time"
)

// Scenario is a named set of percentage price shocks keyed by symbol.
// A shock of -50 halves the price; symbols without a shock are unchanged.
// Volume, spread and liquidity shocks are optional percentage changes of the
// market as a whole. They are carried with the scenario and do not change
// position losses.
type Scenario struct {
	Name           string             `json:"name" yaml:"name"`
	Description    string             `json:"description" yaml:"description"`
	PriceShocks    map[string]float64 `json:"price_shocks" yaml:"price_shocks"`
	VolumeShock    *float64           `json:"volume_shock,omitempty" yaml:"volume_shock,omitempty"`
	SpreadShock    *float64           `json:"spread_shock,omitempty" yaml:"spread_shock,omitempty"`
	LiquidityShock *float64           `json:"liquidity_shock,omitempty" yaml:"liquidity_shock,omitempty"`
	Duration       time.Duration      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Probability    float64            `json:"probability,omitempty" yaml:"probability,omitempty"`
}

// Shock returns the shock for symbol, or 0 if the scenario does not move it
func (s Scenario) Shock(symbol string) float64 {
	return s.PriceShocks[symbol]
}

func (s Scenario) clone() Scenario {
	out := s
	out.PriceShocks = make(map[string]float64, len(s.PriceShocks))
	for symbol, shock := range s.PriceShocks {
		out.PriceShocks[symbol] = shock
	}
	out.VolumeShock = copyFloat(s.VolumeShock)
	out.SpreadShock = copyFloat(s.SpreadShock)
	out.LiquidityShock = copyFloat(s.LiquidityShock)
	return out
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func (s Scenario) validate(op string) error {
	if s.Name == "" {
		return NewInvalidInputError(op, "scenario name is required")
	}
	for symbol, shock := range s.PriceShocks {
		if !isFinite(shock) || shock < -100 {
			return NewInvalidInputError(op, "price shock must be finite and not below -100%").
				WithDetails("scenario", s.Name).
				WithDetails("symbol", symbol).
				WithDetails("shock", shock)
		}
	}
	for field, shock := range map[string]*float64{
		"volume_shock":    s.VolumeShock,
		"spread_shock":    s.SpreadShock,
		"liquidity_shock": s.LiquidityShock,
	} {
		if shock != nil && (!isFinite(*shock) || *shock < -100) {
			return NewInvalidInputError(op, field+" must be finite and not below -100%").
				WithDetails("scenario", s.Name).
				WithDetails(field, *shock)
		}
	}
	return nil
}

// ScenarioOption customises a scenario built by CreateCustomScenario
type ScenarioOption func(*Scenario)

// WithDuration records how long the modelled event lasts
func WithDuration(d time.Duration) ScenarioOption {
	return func(s *Scenario) { s.Duration = d }
}

// WithProbability records an estimated annual probability of the event
func WithProbability(p float64) ScenarioOption {
	return func(s *Scenario) { s.Probability = p }
}

// WithVolumeShock sets the percentage change in traded volume
func WithVolumeShock(pct float64) ScenarioOption {
	return func(s *Scenario) { s.VolumeShock = &pct }
}

// WithSpreadShock sets the percentage change in bid-ask spreads
func WithSpreadShock(pct float64) ScenarioOption {
	return func(s *Scenario) { s.SpreadShock = &pct }
}

// WithLiquidityShock sets the percentage change in order book depth
func WithLiquidityShock(pct float64) ScenarioOption {
	return func(s *Scenario) { s.LiquidityShock = &pct }
}

// MarketShockOptions returns the options that reproduce the optional volume,
// spread and liquidity shocks of s
func (s Scenario) MarketShockOptions() []ScenarioOption {
	var opts []ScenarioOption
	if s.VolumeShock != nil {
		opts = append(opts, WithVolumeShock(*s.VolumeShock))
	}
	if s.SpreadShock != nil {
		opts = append(opts, WithSpreadShock(*s.SpreadShock))
	}
	if s.LiquidityShock != nil {
		opts = append(opts, WithLiquidityShock(*s.LiquidityShock))
	}
	return opts
}

// CreateCustomScenario builds a validated scenario. The shocks map is copied.
func CreateCustomScenario(name, description string, priceShocks map[string]float64, opts ...ScenarioOption) (Scenario, error) {
	s := Scenario{Name: name, Description: description, PriceShocks: priceShocks}.clone()
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.validate("CreateCustomScenario"); err != nil {
		return Scenario{}, err
	}
	if s.Probability < 0 || s.Probability > 1 || !isFinite(s.Probability) {
		return Scenario{}, NewInvalidInputError("CreateCustomScenario", "probability must be within [0, 1]").
			WithDetails("probability", s.Probability)
	}
	return s, nil
}

// ScenarioLibrary is an immutable, ordered collection of named scenarios.
// Readers always receive copies, so it is safe for concurrent use.
type ScenarioLibrary struct {
	scenarios []Scenario
	byName    map[string]int
}

// NewScenarioLibrary builds a library, rejecting invalid or duplicate scenarios
func NewScenarioLibrary(scenarios ...Scenario) (*ScenarioLibrary, error) {
	lib := &ScenarioLibrary{
		scenarios: make([]Scenario, 0, len(scenarios)),
		byName:    make(map[string]int, len(scenarios)),
	}
	for _, s := range scenarios {
		if err := s.validate("NewScenarioLibrary"); err != nil {
			return nil, err
		}
		if _, dup := lib.byName[s.Name]; dup {
			return nil, NewConfigurationError("NewScenarioLibrary", fmt.Sprintf("duplicate scenario %q", s.Name))
		}
		lib.byName[s.Name] = len(lib.scenarios)
		lib.scenarios = append(lib.scenarios, s.clone())
	}
	return lib, nil
}

// Scenarios returns copies of every scenario in library order
func (l *ScenarioLibrary) Scenarios() []Scenario {
	out := make([]Scenario, len(l.scenarios))
	for i, s := range l.scenarios {
		out[i] = s.clone()
	}
	return out
}

// Get returns a copy of the named scenario
func (l *ScenarioLibrary) Get(name string) (Scenario, bool) {
	i, ok := l.byName[name]
	if !ok {
		return Scenario{}, false
	}
	return l.scenarios[i].clone(), true
}

// Names returns the scenario names, sorted
func (l *ScenarioLibrary) Names() []string {
	names := make([]string, 0, len(l.byName))
	for name := range l.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up each name, failing on the first unknown one
func (l *ScenarioLibrary) Resolve(names []string) ([]Scenario, error) {
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		s, ok := l.Get(name)
		if !ok {
			return nil, NewRiskError(ErrCodeUnknownScenario, fmt.Sprintf("unknown scenario %q", name), "Resolve").
				WithConstraint("available", l.Names())
		}
		out = append(out, s)
	}
	return out, nil
}

// Len returns the number of scenarios
func (l *ScenarioLibrary) Len() int {
	return len(l.scenarios)
}

var historicalLibrary = mustLibrary(
	Scenario{
		Name:        "covid_crash_2020",
		Description: "March 2020 liquidity crisis: crypto sold off alongside equities within days",
		PriceShocks: map[string]float64{
			"BTCUSDT": -50, "ETHUSDT": -60, "BNBUSDT": -55, "SOLUSDT": -65,
			"XRPUSDT": -50, "ADAUSDT": -55, "DOGEUSDT": -45,
		},
		Duration:    2 * 24 * time.Hour,
		Probability: 0.05,
	},
	Scenario{
		Name:        "crypto_winter_2022",
		Description: "Prolonged bear market with a steady grind lower across the majors",
		PriceShocks: map[string]float64{
			"BTCUSDT": -75, "ETHUSDT": -80, "BNBUSDT": -65, "SOLUSDT": -95,
			"XRPUSDT": -70, "ADAUSDT": -85, "DOGEUSDT": -85,
		},
		Duration:    365 * 24 * time.Hour,
		Probability: 0.1,
	},
	Scenario{
		Name:        "flash_crash",
		Description: "Intraday liquidation cascade that recovers within hours",
		PriceShocks: map[string]float64{
			"BTCUSDT": -30, "ETHUSDT": -35, "BNBUSDT": -30, "SOLUSDT": -40,
			"XRPUSDT": -35, "ADAUSDT": -40, "DOGEUSDT": -45,
		},
		Duration:    4 * time.Hour,
		Probability: 0.2,
	},
	Scenario{
		Name:        "luna_collapse_2022",
		Description: "Algorithmic stablecoin depeg wiping out the issuing chain and dragging the market",
		PriceShocks: map[string]float64{
			"LUNAUSDT": -99.9, "USTUSDT": -95, "BTCUSDT": -40, "ETHUSDT": -50,
			"SOLUSDT": -60, "ADAUSDT": -55, "AVAXUSDT": -65,
		},
		Duration:    7 * 24 * time.Hour,
		Probability: 0.03,
	},
	Scenario{
		Name:        "ftx_contagion_2022",
		Description: "Exchange insolvency with withdrawals halted and affiliated tokens collapsing",
		PriceShocks: map[string]float64{
			"FTTUSDT": -90, "SOLUSDT": -60, "BTCUSDT": -25, "ETHUSDT": -30,
			"BNBUSDT": -20, "SRMUSDT": -80,
		},
		Duration:    10 * 24 * time.Hour,
		Probability: 0.03,
	},
)

func mustLibrary(scenarios ...Scenario) *ScenarioLibrary {
	lib, err := NewScenarioLibrary(scenarios...)
	if err != nil {
		panic(err)
	}
	return lib
}

// HistoricalScenarios returns the built-in library of historical crypto shocks
func HistoricalScenarios() *ScenarioLibrary {
	return historicalLibrary
}

// GetHistoricalScenarios returns copies of the built-in scenarios
func GetHistoricalScenarios() []Scenario {
	return historicalLibrary.Scenarios()
}
