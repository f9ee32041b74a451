package events

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the structured log. Used in development and
// in tests, and as the fallback when NATS is disabled.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to marshal event payload")
		return
	}
	log.Info().Str("channel", channel).RawJSON("payload", data).Msg("event published")
}
