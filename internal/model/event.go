package model

// Event is a domain event stored alongside the deal write that produced it and
// delivered to the broker afterwards.
type Event struct {
	RoutingKey string
	Payload    any
}
