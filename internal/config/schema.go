package config

// PolicyConfig is the top-level YAML structure of a decisioning policy.
type PolicyConfig struct {
	Version        string                        `yaml:"version"`
	Engine         EngineConf                    `yaml:"engine"`
	Severity       map[string]SeverityConf       `yaml:"severity"`
	Weights        map[string]map[string]float64 `yaml:"weights"`
	Scale          float64                       `yaml:"scale"`
	Tiers          TierConf                      `yaml:"tiers"`
	Guidelines     []GuidelineConf               `yaml:"guidelines"`
	Recommendation RecommendationConf            `yaml:"recommendation"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	IntakeWorkers     int `yaml:"intake_workers"`
	QueueDepth        int `yaml:"queue_depth"`
	MutationTimeoutMs int `yaml:"mutation_timeout_ms"`
}

// SeverityConf holds the relative-deviation bands of a numeric category and
// its absolute per-label limits.
type SeverityConf struct {
	Caution float64              `yaml:"caution"`
	Adverse float64              `yaml:"adverse"`
	Limits  map[string]LimitConf `yaml:"limits"`
}

// LimitConf is an absolute threshold; direction is "above" (default) or "below".
type LimitConf struct {
	Caution   float64 `yaml:"caution"`
	Adverse   float64 `yaml:"adverse"`
	Direction string  `yaml:"direction"`
}

// TierConf holds the inclusive lower bounds of the Medium and High tiers.
type TierConf struct {
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// GuidelineConf is one guideline table entry. When is an optional
// condition expression over chain facts.
type GuidelineConf struct {
	Name string `yaml:"name"`
	Tier string `yaml:"tier"`
	When string `yaml:"when"`
}

// RecommendationConf holds synthesis coefficients. Money-like values are
// strings so they parse exactly as decimals.
type RecommendationConf struct {
	EvidenceTrigger string      `yaml:"evidence_trigger"`
	TableStep       string      `yaml:"table_step"`
	Medium          LoadingConf `yaml:"medium"`
	High            LoadingConf `yaml:"high"`
}

// LoadingConf is base + per_point × points over the tier floor, capped at max.
type LoadingConf struct {
	Base     string `yaml:"base"`
	PerPoint string `yaml:"per_point"`
	Max      string `yaml:"max"`
}
