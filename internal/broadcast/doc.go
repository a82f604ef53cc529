// Package broadcast fans agent events out to live subscribers.
//
// The agent runtime persists each event first and then publishes it here.
// The HTTP gateway subscribes per agent for its SSE and websocket feeds.
// Delivery is best effort: each subscriber has a 64-event buffer and events
// are dropped for subscribers that fall behind.
package broadcast
