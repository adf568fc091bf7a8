// Package storage provides run archive implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory map, used when Redis is disabled and in tests
//
// The three-partition agent memory lives in pkg/adapters/memorystore.
package storage
