// Package generation defines the boundary between the streaming core and
// external generative-text providers. It abstracts the provider behind the
// TokenSource interface and owns the structured result the accumulated
// output must parse into, keeping the orchestrator decoupled from any
// specific LLM SDK.
package generation
