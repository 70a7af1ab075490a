package engine

type Config struct {
	Rules   Rules   `json:"rules"`
	Weights Weights `json:"weights"`
	// MaxNodes caps the arena; the search is exhausted once it is reached.
	MaxNodes int `json:"max_nodes"`
	// ChildLimit keeps only the best children of non-root nodes. 0 keeps all.
	ChildLimit int `json:"child_limit"`
	// DepthBonus is added to the frontier priority per ply of depth.
	DepthBonus float64 `json:"depth_bonus"`
}

func DefaultConfig() Config {
	return Config{
		Rules:      DefaultRules(),
		Weights:    DefaultWeights(),
		MaxNodes:   200000,
		ChildLimit: 8,
		DepthBonus: 25,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Rules == (Rules{}) {
		c.Rules = defaults.Rules
	}
	if c.Rules.Spins == "" {
		c.Rules.Spins = SpinModeNone
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = defaults.MaxNodes
	}
	if c.ChildLimit < 0 {
		c.ChildLimit = 0
	}
	return c
}
