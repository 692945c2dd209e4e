package outbox

import (
	"encoding/json"
	"fmt"
)

// TopicAvailabilityChanged carries every write that changes what a resource
// can be booked for: appointments and unavailability blocks. The Kafka topic
// name equals the event type.
const TopicAvailabilityChanged = "scheduling.availability.changed.v1"

const (
	AggregateAppointment = "appointment"
	AggregateBlock       = "unavailability_block"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AvailabilityChanged names the (resource, date) cache keys a write touched.
type AvailabilityChanged struct {
	AggregateType string   `json:"aggregate_type"`
	AggregateID   string   `json:"aggregate_id"`
	ResourceID    string   `json:"resource_id"`
	Dates         []string `json:"dates"`
	Action        string   `json:"action"`
	Version       int      `json:"version,omitempty"`
}

func NewAvailabilityChanged(p AvailabilityChanged) (Event, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", TopicAvailabilityChanged, err)
	}
	return Event{
		AggregateType: p.AggregateType,
		AggregateID:   p.AggregateID,
		EventType:     TopicAvailabilityChanged,
		Payload:       payload,
	}, nil
}

func DecodeAvailabilityChanged(payload []byte) (AvailabilityChanged, error) {
	var p AvailabilityChanged
	if err := json.Unmarshal(payload, &p); err != nil {
		return AvailabilityChanged{}, fmt.Errorf("decode %s: %w", TopicAvailabilityChanged, err)
	}
	return p, nil
}
