package statusbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"gridlink/internal/config"
	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/status"
)

// ErrDisabled is returned by Connect when no NATS URL is configured.
var ErrDisabled = errors.New("status bus disabled")

// Event is the JSON document published for every status change.
type Event struct {
	Version         uint64    `json:"version"`
	Setup           string    `json:"setup"`
	Computing       string    `json:"computing"`
	ComputingReason string    `json:"computing_reason,omitempty"`
	Network         string    `json:"network"`
	NetworkReason   string    `json:"network_reason,omitempty"`
	Projects        int       `json:"projects"`
	Executing       int       `json:"executing"`
	Transfers       int       `json:"transfers"`
	FetchedAt       time.Time `json:"fetched_at,omitzero"`
	PublishedAt     time.Time `json:"published_at"`
}

// NewEvent summarizes a published status.
func NewEvent(p status.Published, now time.Time) Event {
	ev := Event{
		Version:     p.Version,
		Setup:       p.Setup.String(),
		Computing:   p.Computing.String(),
		Network:     p.Network.String(),
		PublishedAt: now.UTC(),
	}
	if p.ComputingReason != ipc.SuspendNone {
		ev.ComputingReason = p.ComputingReason.String()
	}
	if p.NetworkReason != ipc.SuspendNone {
		ev.NetworkReason = p.NetworkReason.String()
	}
	if snap := p.Snapshot; snap != nil {
		ev.Projects = len(snap.Projects)
		ev.Transfers = len(snap.Transfers)
		ev.FetchedAt = snap.FetchedAt.UTC()
		for _, r := range snap.Results {
			if r.Executing() {
				ev.Executing++
			}
		}
	}
	return ev
}

// Publisher sends status events to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials the configured NATS server.
func Connect(cfg config.NATS, logger *slog.Logger) (*Publisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, ErrDisabled
	}
	logger = logging.NewComponentLogger(logger, "statusbus")
	conn, err := nats.Connect(url,
		nats.Name("gridlink"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.WarnWithContext(logger, "status bus disconnected", "nats_disconnected",
					logging.Error(err),
					logging.String(logging.FieldImpact, "status events are not delivered until reconnect"),
					logging.String(logging.FieldErrorHint, "check the NATS server"))
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("status bus reconnected", logging.String(logging.FieldEventType, "nats_reconnected"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("status bus connected",
		logging.String("url", url),
		logging.String("subject", cfg.Subject))
	return &Publisher{conn: conn, subject: cfg.Subject, logger: logger}, nil
}

// Publish sends one status event.
func (p *Publisher) Publish(pub status.Published) error {
	data, err := json.Marshal(NewEvent(pub, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Run publishes every value received from updates until ctx is done or the
// channel closes.
func (p *Publisher) Run(ctx context.Context, updates <-chan status.Published) {
	for {
		select {
		case <-ctx.Done():
			return
		case pub, ok := <-updates:
			if !ok {
				return
			}
			if err := p.Publish(pub); err != nil {
				p.logger.Debug("status event dropped", logging.Error(err))
			}
		}
	}
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
}
