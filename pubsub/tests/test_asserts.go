package tests

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polaris-dashboard/polaris/message"
)

func difference(a, b []string) []string {
	mb := map[string]bool{}
	for _, x := range b {
		mb[x] = true
	}
	ab := []string{}
	for _, x := range a {
		if _, ok := mb[x]; !ok {
			ab = append(ab, x)
		}
	}
	return ab
}

func MissingMessages(expected message.Messages, received message.Messages) []string {
	sentIDs := expected.IDs()
	receivedIDs := received.IDs()

	sort.Strings(sentIDs)
	sort.Strings(receivedIDs)

	return difference(sentIDs, receivedIDs)
}

// AssertAllMessagesReceived checks that received has exactly the messages of sent, in any order.
func AssertAllMessagesReceived(t *testing.T, sent message.Messages, received message.Messages) bool {
	sentIDs := sent.IDs()
	receivedIDs := received.IDs()

	sort.Strings(sentIDs)
	sort.Strings(receivedIDs)

	assert.Equal(
		t,
		len(sentIDs), len(receivedIDs),
		"id's count is different: received: %d, sent: %d", len(receivedIDs), len(sentIDs),
	)

	return assert.Equal(
		t, sentIDs, receivedIDs,
		"received different messages ID's, missing: %s, extra %s",
		MissingMessages(sent, received),
		MissingMessages(received, sent),
	)
}

// AssertMessagesEqual checks payload and metadata of every received message against the sent one with the same UUID.
func AssertMessagesEqual(t *testing.T, sent message.Messages, received message.Messages) bool {
	sentByID := make(map[string]*message.Message, len(sent))
	for _, msg := range sent {
		sentByID[msg.UUID] = msg
	}

	ok := true
	for _, msg := range received {
		expected, found := sentByID[msg.UUID]
		if !assert.True(t, found, "unexpected message %s", msg.UUID) {
			ok = false
			continue
		}
		if !assert.True(t, expected.Equals(msg), "message %s differs", msg.UUID) {
			ok = false
		}
	}

	return ok
}
