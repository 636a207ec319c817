package config

const (
	DefaultCaution         = 0.05
	DefaultAdverse         = 0.15
	DefaultScale           = 100
	DefaultMediumFloor     = 40
	DefaultHighFloor       = 75
	DefaultEvidenceTrigger = "adverse.financial > 0 OR adverse.disclosure > 0"
	DefaultTableStep       = "25"
)

// ApplyDefaults fills zero values in place.
func ApplyDefaults(cfg *PolicyConfig) {
	if cfg.Engine.IntakeWorkers == 0 {
		cfg.Engine.IntakeWorkers = 8
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 1000
	}
	if cfg.Engine.MutationTimeoutMs == 0 {
		cfg.Engine.MutationTimeoutMs = 5000
	}
	for name, sc := range cfg.Severity {
		if sc.Caution == 0 && sc.Adverse == 0 {
			sc.Caution, sc.Adverse = DefaultCaution, DefaultAdverse
		}
		for label, lim := range sc.Limits {
			if lim.Direction == "" {
				lim.Direction = "above"
				sc.Limits[label] = lim
			}
		}
		cfg.Severity[name] = sc
	}
	if cfg.Scale == 0 {
		cfg.Scale = DefaultScale
	}
	if cfg.Tiers.Medium == 0 && cfg.Tiers.High == 0 {
		cfg.Tiers = TierConf{Medium: DefaultMediumFloor, High: DefaultHighFloor}
	}
	if cfg.Recommendation.EvidenceTrigger == "" {
		cfg.Recommendation.EvidenceTrigger = DefaultEvidenceTrigger
	}
	if cfg.Recommendation.TableStep == "" {
		cfg.Recommendation.TableStep = DefaultTableStep
	}
}
