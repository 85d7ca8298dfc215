package eventstore

// EventVisitor is invoked once per event message during a global scan.
// Returning an error aborts the scan.
type EventVisitor interface {
	DoWithEvent(msg *DomainEventMessage) error
}

// EventVisitorFunc adapts a function to the EventVisitor interface.
type EventVisitorFunc func(msg *DomainEventMessage) error

func (f EventVisitorFunc) DoWithEvent(msg *DomainEventMessage) error {
	return f(msg)
}
