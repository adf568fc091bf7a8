// Package events provides event bus implementations.
//
// Implementations:
//   - memory: bounded ring buffer with per-subscriber mailboxes (the trace of record)
//   - redis: Redis Streams mirror fed by a memory bus subscription
package events
