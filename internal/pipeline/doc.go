// Package pipeline is the declarative front end of the engine. A
// Definition collects producers, hooks, timers and a policy, and Build turns
// it into an engine.Processor bound to a store.
//
// Producers come either from Go code (Process, ProcessWhere) or from Rules,
// the type/where/set/create descriptions used by configuration and scenario
// files.
package pipeline
