// Package feed implements the per-consumer Feed Session.
//
// A Session owns exactly one logical connection to the feed provider:
//   - Connect / Disconnect / Close lifecycle with a heartbeat ticker
//   - HeartbeatLost detection, then ReconnectPending until the scheduler retries
//   - Topic subscriptions, replayed after every successful (re)connect
//   - Clock skew captured from a time probe and applied to outbound reports
//
// Sessions report to their owner through a single Event channel instead of
// callbacks, so an owner holding its own lock is never re-entered.
package feed
