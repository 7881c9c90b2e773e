// Package subscriber has helpers for reading messages from a subscription, mostly used in tests.
package subscriber

import (
	"time"

	"github.com/polaris-dashboard/polaris/message"
)

// BulkRead acks and returns messages from messagesCh until limit messages are read,
// no message arrives within timeout, or the channel is closed.
func BulkRead(messagesCh <-chan *message.Message, limit int, timeout time.Duration) (receivedMessages message.Messages, all bool) {
MessagesLoop:
	for len(receivedMessages) < limit {
		select {
		case msg, ok := <-messagesCh:
			if !ok {
				break MessagesLoop
			}

			receivedMessages = append(receivedMessages, msg)
			msg.Ack()
		case <-time.After(timeout):
			break MessagesLoop
		}
	}

	return receivedMessages, len(receivedMessages) == limit
}
