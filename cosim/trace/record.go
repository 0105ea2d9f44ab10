// Package trace records what happened during a scenario run: each step the
// slaves took and each scenario reconfiguration.
// This package has no dependencies on the execution or scenario packages; it stores pure data types.
package trace

// StepRecord captures one step of all slaves.
type StepRecord struct {
	Time     float64 `yaml:"time"` // logical time at the start of the step
	StepSize float64 `yaml:"step_size"`
	Complete bool    `yaml:"complete"`
}

// ReconfigRecord captures one batch of scenario events applied at once.
type ReconfigRecord struct {
	Time     float64        `yaml:"time"`
	Settings map[string]int `yaml:"settings"` // slave name → number of variables set
}
