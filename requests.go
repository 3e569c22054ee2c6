package eventbroker

type subscribeRequest[T any] struct {
	Topic string

	Resp chan *Subscription[T]
}

type publishRequest[T any] struct {
	Topic string
	Msg   T

	Resp chan publishResponse
}

type publishResponse struct {
	Delivery *Delivery

	// Targets that accepted the message during fan-out,
	// before any consumer could free space.
	Immediate int

	Err error
}

// topicsRequest reports the registered topics and,
// for each, the number of subscriptions.
type topicsRequest struct {
	Resp chan map[string]int
}
