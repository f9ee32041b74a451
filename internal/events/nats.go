package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSPublisher publishes events as JSON messages on NATS subjects.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("peerex-core"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(channel string, payload interface{}) {
	logger := log.With().Str("component", "nats_publisher").Str("channel", channel).Logger()

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal event payload")
		return
	}

	if err := p.nc.Publish(channel, data); err != nil {
		// Best effort only: the mutation this notifies about has already
		// committed.
		logger.Error().Err(err).Msg("failed to publish event")
	}
}

// Close drains the connection, flushing any buffered publishes.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain nats connection")
	}
}
