// Package agentrelay routes conversational turns through registered agents,
// dispatches tool invocations (server-resident or delegated to the calling
// client), and streams the resulting events back in causal order.
//
// The building blocks compose bottom-up:
//  1. tool.Registry and agent.Registry hold the immutable capability
//     configuration, validated at startup.
//  2. engine.Turn drives one turn: agent reasoning, handoffs, tool batches
//     with suspend/resume for client-delegated calls, and a gapless ordered
//     event stream.
//  3. runner.Runner supervises turns per conversation, enforcing exclusivity
//     and notifying persistence on terminal transitions.
//  4. server.Server exposes the runner over HTTP with NDJSON streaming.
//
// Agent reasoning is an opaque capability behind agent.Reasoner; the reasoner
// package provides OpenAI and Anthropic backed implementations.
package agentrelay

// Version is the current release of agentrelay.
const Version = "0.1.0"
