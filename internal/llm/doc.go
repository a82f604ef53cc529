// Package llm calls OpenAI-compatible chat completion APIs.
//
// Any provider that serves POST <base>/chat/completions works: OpenAI
// (https://api.openai.com/v1), Gemini (the default), OpenRouter
// (https://openrouter.ai/api/v1) or Ollama (http://localhost:11434/v1).
// The key is sent as a bearer token.
package llm
