package memory

import (
	"context"
	"time"
)

// EventType names a change notification.
type EventType string

const (
	EventMemoryInserted EventType = "memory.inserted"
	EventMemoryLinked   EventType = "memory.linked"
	EventEpisodeCreated EventType = "episode.created"
)

// Event is published after a successful write. Delivery is best effort.
type Event struct {
	Type      EventType `json:"type"`
	MemoryID  string    `json:"memory_id,omitempty"`
	EpisodeID string    `json:"episode_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Link      *Link     `json:"link,omitempty"`
	At        time.Time `json:"at"`
}

// EventSink receives change notifications.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}
