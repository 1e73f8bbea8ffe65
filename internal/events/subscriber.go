package events

// Message is one delivery from the event bus. Respond is nil when the sender
// did not ask for a reply.
type Message struct {
	Subject string
	Data    []byte
	Respond func(data []byte) error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers messages on the returned channel. A non-empty queue
	// joins a queue group so each message reaches one member.
	// The returned cancel function stops delivery; messages already on the
	// channel remain readable until it closes.
	Subscribe(topic, queue string) (<-chan Message, func(), error)
	Close() error
}
