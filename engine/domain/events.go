package domain

// Catalog lifecycle event names the dispatcher reacts to.
const (
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
	EventProductDeleted = "product.deleted"
)

// EventSubjectPrefix prefixes event names to form NATS subjects, e.g.
// "catalog.product.created".
const EventSubjectPrefix = "catalog."

// ProductEvent is the payload published on catalog event subjects.
type ProductEvent struct {
	ID string `json:"id"`
}

// EventSubject returns the NATS subject for a catalog event name.
func EventSubject(event string) string {
	return EventSubjectPrefix + event
}
