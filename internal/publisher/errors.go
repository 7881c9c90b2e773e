package publisher

import (
	"sort"
	"strings"

	"github.com/polaris-dashboard/polaris/message"
)

// ErrCouldNotPublish is returned by RetryPublisher when some messages were not published after all retries.
type ErrCouldNotPublish struct {
	reasons map[string]error
}

func (e *ErrCouldNotPublish) addMsg(msg *message.Message, reason error) {
	e.reasons[msg.UUID] = reason
}

func NewErrCouldNotPublish() *ErrCouldNotPublish {
	return &ErrCouldNotPublish{make(map[string]error)}
}

func (e ErrCouldNotPublish) Len() int {
	return len(e.reasons)
}

func (e ErrCouldNotPublish) Error() string {
	if len(e.reasons) == 0 {
		return ""
	}

	uuids := make([]string, 0, len(e.reasons))
	for uuid := range e.reasons {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	b := strings.Builder{}
	b.WriteString("could not publish the messages:\n")
	for _, uuid := range uuids {
		b.WriteString(uuid + " : " + e.reasons[uuid].Error() + "\n")
	}
	return b.String()
}

func (e ErrCouldNotPublish) Reasons() map[string]error {
	return e.reasons
}
