package eventbroker

// NoSubscribersError is returned from [*Broker.Publish]
// if no topic has ever been subscribed to,
// regardless of which topic was published to.
//
// This condition only changes after a call to [*Broker.Subscribe],
// so retrying the publish alone will not help.
type NoSubscribersError struct {
	Topic string
}

func (e NoSubscribersError) Error() string {
	return "no subscribers registered on any topic (publishing to " + e.Topic + ")"
}

// UnknownTopicError is returned from [*Broker.Publish]
// if the broker has subscriptions on other topics
// but none has ever been created for the given topic.
type UnknownTopicError struct {
	Topic string
}

func (e UnknownTopicError) Error() string {
	return "no subscription was ever created for topic " + e.Topic
}
