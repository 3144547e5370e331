/*
Package resilience provides the circuit breaker guarding daemon calls.

# Overview

When the trace daemon is wedged, inline registrations made from application
goroutines must fail fast instead of each waiting for a full call timeout.
The breaker counts transport failures and, once tripped, rejects calls
immediately until a cool-down elapses.

# Usage

	breaker := resilience.New("daemon", resilience.Settings{
		Timeout: 2 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsFailure: func(err error) bool {
			return status.Code(err) == codes.Unavailable
		},
	})

	err := breaker.Do(func() error {
		return conn.Invoke(ctx, method, req, resp)
	})

# States

	Closed --[trip]-> Open --[timeout]-> Half-Open --[MaxRequests successes]-> Closed
	                                        |
	                                    [failure]
	                                        v
	                                       Open
*/
package resilience
