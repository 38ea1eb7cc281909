package types

import "time"

// EventType names an operator action recorded in the entity audit log.
type EventType string

const (
	EventEntityCreated EventType = "created"
	EventConfirmed     EventType = "confirmed"
	EventMerged        EventType = "merged"
	EventMergedFrom    EventType = "merged_from"
	EventDeactivated   EventType = "deactivated"
	EventAliasAdded    EventType = "alias_added"
	EventHandleAdded   EventType = "handle_added"
)

// Event is one entry of an entity's audit log.
type Event struct {
	ID         int64     `json:"id"`
	EntitySlug string    `json:"entity_slug"`
	Type       EventType `json:"event_type"`
	Actor      string    `json:"actor"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
