// Package protocol defines the topics exchanged between the bot and the web dashboard
// together with their request and response records.
package protocol
