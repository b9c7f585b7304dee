// Package chat provides chat-completion client implementations for the
// Rewriter (headline rewriting) and Discoverer (web-discovery query
// answering) stages. It includes adapters for Claude (Anthropic) and
// OpenAI APIs with the same reliability patterns the teacher's summarizer
// package applies to its own AI calls.
package chat

import "context"

// Completer issues a single chat-completion call: a fixed system prompt
// plus a user message, returning the model's raw text response. Both
// stages that depend on chat completion (Rewriter, Discoverer) build
// their own prompts and parse the response themselves — this interface
// carries no stage-specific shape.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
