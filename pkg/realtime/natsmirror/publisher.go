package natsmirror

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/util"
)

const defaultSubjectPrefix = "bustracker.bus"

// Conn is the part of a NATS connection the publisher uses
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher mirrors relay events onto NATS subjects of the form <prefix>.<bus>.<event type>
type Publisher struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
}

// Connect returns nil when BUSTRACKER_NATS_URL is not set
func Connect() (*Publisher, error) {
	env := util.GetEnvironmentVariables()

	url := env["BUSTRACKER_NATS_URL"]
	if url == "" {
		log.Info().Msg("Skipping NATS event mirror setup")
		return nil, nil
	}

	prefix := defaultSubjectPrefix
	if env["BUSTRACKER_NATS_SUBJECT_PREFIX"] != "" {
		prefix = env["BUSTRACKER_NATS_SUBJECT_PREFIX"]
	}

	nc, err := nats.Connect(url,
		nats.Name("bustracker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info().Str("url", conn.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", url).Str("prefix", prefix).Msg("Mirroring relay events to NATS")

	publisher := NewPublisher(nc, prefix)
	publisher.nc = nc

	return publisher, nil
}

func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	return &Publisher{
		conn:   conn,
		prefix: prefix,
	}
}

func (p *Publisher) Subject(event ctdf.Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(event.BusID), subjectToken(string(event.Type)))
}

// Mirror publishes the event. Failures are logged, the local fan-out has already happened.
func (p *Publisher) Mirror(event ctdf.Event) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("bus", event.BusID).Msg("Failed to encode event for NATS")
		return
	}

	subject := p.Subject(event)
	if err := p.conn.Publish(subject, eventJSON); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event to NATS")
	}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}

// subjectToken makes a value safe to use as a single NATS subject token
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
