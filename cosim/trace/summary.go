package trace

import "math"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalSteps        int            `yaml:"total_steps"`
	FailedSteps       int            `yaml:"failed_steps"`
	MinStepSize       float64        `yaml:"min_step_size"`
	MaxStepSize       float64        `yaml:"max_step_size"`
	SimulatedTime     float64        `yaml:"simulated_time"`
	Reconfigurations  int            `yaml:"reconfigurations"`
	SettingsApplied   int            `yaml:"settings_applied"`
	SlaveDistribution map[string]int `yaml:"slave_distribution"` // slave name → settings applied
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		SlaveDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalSteps = len(st.Steps)
	if len(st.Steps) > 0 {
		summary.MinStepSize = math.Inf(1)
		for _, s := range st.Steps {
			if !s.Complete {
				summary.FailedSteps++
				continue
			}
			summary.SimulatedTime += s.StepSize
			summary.MinStepSize = math.Min(summary.MinStepSize, s.StepSize)
			summary.MaxStepSize = math.Max(summary.MaxStepSize, s.StepSize)
		}
		if math.IsInf(summary.MinStepSize, 1) {
			summary.MinStepSize = 0
		}
	}

	summary.Reconfigurations = len(st.Reconfigs)
	for _, r := range st.Reconfigs {
		for slave, n := range r.Settings {
			summary.SlaveDistribution[slave] += n
			summary.SettingsApplied += n
		}
	}

	return summary
}
