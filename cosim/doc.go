// Package cosim provides the master-side data model for orchestrating a
// distributed co-simulation: slave types, variables, values, settings, the
// connection validator, the error kinds, and the transport contracts that
// any slave transport must satisfy.
//
// # Reading Guide
//
// Start with these files:
//   - types.go: data types, causality, variability, variable and slave type descriptions
//   - value.go: ScalarValue, the tagged union carried by settings and events
//   - setting.go: VariableSetting (initial value or connection change)
//   - validate.go: the rules a proposed output-to-input connection must satisfy
//   - transport.go: ProviderCluster, SlaveConnector and SlaveChannel
//
// # Architecture
//
// The cosim package defines data types and interfaces; behaviour lives in
// sub-packages:
//   - cosim/execution/: the execution state machine (config/run modes, bulk operations, stepping)
//   - cosim/model/: offline model construction and application to an execution
//   - cosim/scenario/: timed events and the stepping loop that applies them
//   - cosim/trace/: step and reconfiguration records
//   - cosim/loopback/: an in-memory transport with built-in slave types
//   - cosim/modelfile/: YAML and HCL model file loaders
//
// The core never performs I/O itself. All slave communication goes through
// the interfaces in transport.go, so any transport (or a test fake) can be
// injected.
package cosim
