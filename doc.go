// Package polaris bridges a chat-bot process that holds a live guild cache with a
// stateless web dashboard, using request/response calls layered on a pub/sub broker.
//
// The bridge lives in package rpc. Transports implementing message.Publisher and
// message.Subscriber are in pubsub/gochannel (in-process) and pubsub/redis.
// The dashboard itself (bot handlers, web process, settings store) lives under dashboard/.
package polaris
