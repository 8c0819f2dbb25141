package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
)

type EventKind string

const (
	EventEntered EventKind = "entered"
	EventExited  EventKind = "exited"
)

// Event is one state transition emitted after a scan's changes are
// committed. Exited events carry the last persisted figures since the
// asset is absent from the new qualifying set.
type Event struct {
	Kind            EventKind          `json:"kind"`
	RunID           string             `json:"run_id"`
	Symbol          string             `json:"symbol"`
	Name            string             `json:"name"`
	Gain7d          float64            `json:"gain_7d"`
	Gain30d         float64            `json:"gain_30d"`
	UniformityScore float64            `json:"uniformity_score"`
	Volume24h       float64            `json:"volume_24h"`
	VenueVolumes    map[string]float64 `json:"venue_volumes,omitempty"`
	At              time.Time          `json:"at"`
}

// Deliverer receives the events of one scan run. Delivery failures are
// reported but never roll back the committed state they describe.
type Deliverer interface {
	Deliver(ctx context.Context, events []Event) error
}

// EnteredEvent builds the event for an asset entering the qualifying set.
func EnteredEvent(runID string, a model.AssetSnapshot, at time.Time) Event {
	return Event{
		Kind:            EventEntered,
		RunID:           runID,
		Symbol:          a.Symbol,
		Name:            a.Name,
		Gain7d:          a.Gains.Chg7d,
		Gain30d:         a.Gains.Chg30d,
		UniformityScore: a.UniformityScore,
		Volume24h:       a.Volume24h,
		VenueVolumes:    a.VenueVolumes,
		At:              at,
	}
}

// ExitedEvent builds the event for an asset leaving the qualifying set.
func ExitedEvent(runID string, q model.ActiveQualifier, at time.Time) Event {
	return Event{
		Kind:            EventExited,
		RunID:           runID,
		Symbol:          q.Symbol,
		Name:            q.Name,
		Gain7d:          q.Gain7d,
		Gain30d:         q.Gain30d,
		UniformityScore: q.UniformityScore,
		Volume24h:       q.Volume24h,
		At:              at,
	}
}

// LogDeliverer writes events to the structured log. It is the stock
// deliverer; richer channels implement Deliverer the same way.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(ctx context.Context, events []Event) error {
	for _, e := range events {
		log.Info().
			Str("event", string(e.Kind)).
			Str("run_id", e.RunID).
			Str("symbol", e.Symbol).
			Float64("gain_7d", e.Gain7d).
			Float64("gain_30d", e.Gain30d).
			Float64("uniformity_score", e.UniformityScore).
			Float64("volume_24h", e.Volume24h).
			Msg("qualifier event")
	}
	return nil
}
