// Package llm wraps hosted text generation APIs behind the Invoker interface.
//
// GeminiInvoker uses firebase genkit with the googlegenai plugin and
// AnthropicInvoker uses anthropic-sdk-go. ComposePrompt renders an agent
// snapshot into the single prompt an execution sends, and Describe turns
// provider errors into the message recorded on a failed execution.
package llm
