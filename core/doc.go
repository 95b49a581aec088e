// Package core defines the primitives shared across the engine: events with
// per-turn sequence numbers, tool calls and results, conversational messages,
// and the protocol error taxonomy. Types here are plain data; behaviour lives
// in the engine, runner and registry packages.
package core
