package trace

// TraceLevel controls the verbosity of simulation tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures scenario reconfigurations only.
	TraceLevelEvents TraceLevel = "events"
	// TraceLevelSteps captures every step as well as reconfigurations.
	TraceLevelSteps TraceLevel = "steps"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelEvents: true,
	TraceLevelSteps:  true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects step and reconfiguration records during a run.
// A nil *SimulationTrace records nothing.
type SimulationTrace struct {
	Config    TraceConfig
	Steps     []StepRecord
	Reconfigs []ReconfigRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:    config,
		Steps:     make([]StepRecord, 0),
		Reconfigs: make([]ReconfigRecord, 0),
	}
}

// RecordStep appends a step record if steps are traced.
func (st *SimulationTrace) RecordStep(record StepRecord) {
	if st == nil || st.Config.Level != TraceLevelSteps {
		return
	}
	st.Steps = append(st.Steps, record)
}

// RecordReconfig appends a reconfiguration record unless tracing is off.
func (st *SimulationTrace) RecordReconfig(record ReconfigRecord) {
	if st == nil || st.Config.Level == TraceLevelNone || st.Config.Level == "" {
		return
	}
	st.Reconfigs = append(st.Reconfigs, record)
}
