// Package hub fans out accepted telemetry and connectivity changes to every
// attached viewer.
//
// Each Subscription owns a bounded queue. Publishing never blocks: when a
// queue is full the oldest queued message is evicted to make room, so a slow
// viewer only loses its own history and never stalls ingestion or other
// viewers. Messages carry a hub-wide sequence number, letting a viewer spot
// gaps caused by eviction.
//
// Telemetry and connectivity travel on the same queue as tagged messages, so
// their relative order is preserved per viewer.
//
// After Close the hub delivers a final KindShutdown marker to each
// subscription, closes every queue, ignores further publishes and rejects
// new subscriptions.
package hub
