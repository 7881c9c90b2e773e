package metrics

const (
	labelTopic       = "topic"
	labelBrokerTopic = "broker_topic"
	labelSuccess     = "success"
	labelOutcome     = "outcome"
)

func successLabel(err error) string {
	if err != nil {
		return "false"
	}
	return "true"
}
