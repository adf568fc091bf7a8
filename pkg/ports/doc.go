// Package ports declares the interfaces the application layer consumes.
//
// Adapters under pkg/adapters implement them:
//   - EventBus: events/memory (ring buffer), mirrored by events/redis
//   - RunStore: storage/memory and storage/redis
//   - MetricsCollector: metrics/prometheus
//   - Reasoner: llm/anthropic
//   - MemoryStore: memorystore (SQLite)
package ports
