// Package rpc implements request/response calls on top of a fire-and-forget pub/sub broker.
//
// A Producer publishes CREATE envelopes to the requests topic and, when asked to wait,
// blocks the calling goroutine until an envelope with the same correlation id arrives on
// the responses topic or the wait times out. A Consumer subscribes to the requests topic,
// dispatches every envelope to the handler registered for its (topic, kind) pair on its own
// goroutine, and publishes the handler's reply with the original correlation id.
//
// The broker is assumed to deliver at least once, with no ordering and no correlation of
// its own. Only the correlation id binds a reply to its request; late or duplicate replies
// are dropped by the Producer.
package rpc
