// Package circuitbreaker gates calls to a failing dependency.
//
// A Breaker starts CLOSED. Consecutive failures up to Config.FailureThreshold
// open it; while OPEN, Execute fails with ErrOpen without running the
// operation. After Config.ResetTimeout the next call runs as a single
// HALF_OPEN trial: success closes the breaker, failure reopens it.
//
// The breaker never retries and never bounds an operation's latency;
// callers own both.
package circuitbreaker
