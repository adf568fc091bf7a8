// Package workers implements the bounded worker pool stages run on.
//
// The pool manages a fixed number of goroutines that:
//   - Accept jobs handed over by Submit, one at a time per worker
//   - Recover job panics so a faulty stage never kills a worker
//   - Report idle/busy/stopped status
//
// The health monitor periodically logs pool status and records it as metrics.
package workers
