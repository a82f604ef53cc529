// Package dedupe provides a TTL and size bounded cache keyed by idempotency
// keys. The gateway stores the reply of each keyed agent message so a retried
// request within the window gets the same reply instead of a second run.
package dedupe
