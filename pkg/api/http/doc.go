// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Request submission (POST /process)
//   - Run inspection and cancellation
//   - Memory inspection and deletion
//   - Event history
//   - Health checks and Prometheus metrics
package http
