// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Consumer connections open and total
//   - Session events by kind
//   - Inbound frames, unknown messages and routing misses
//   - Reports and error reports sent
//   - Reconnect attempts by result
package metrics
