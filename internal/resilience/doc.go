// Package resilience holds the failure-absorbing pieces of the pipeline:
// per-module circuit breakers, the retry policy and fallback chains.
//
// None of these types start goroutines or own executors. The scheduler
// composes them around each module invocation.
package resilience
