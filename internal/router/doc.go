// Package router accounts for model usage per tenant and agent.
//
// No provider reports real token counts here, so usage is estimated from the
// prompt length: max(1, ceil(len/4)) tokens at a flat 0.0000015 USD each,
// rounded to six decimals. The model is the caller's hint or the configured
// default.
package router
