package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/telemetry"
)

// Sink is a Postgres implementation of telemetry.Sink.
type Sink struct {
	pool *pgxpool.Pool
}

func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

func (s *Sink) Record(ctx context.Context, ev telemetry.Event) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_events (session_token, kind, gateway_url, merchant_id, integration, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		string(ev.Session),
		ev.Kind,
		ev.GatewayURL,
		ev.MerchantID,
		ev.Integration,
		ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}

func (s *Sink) List(ctx context.Context, session domain.SessionToken) ([]telemetry.Event, error) {
	if s.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_token, kind, gateway_url, merchant_id, integration, occurred_at
		FROM telemetry_events
		WHERE session_token = $1
		ORDER BY occurred_at, id
	`, string(session))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (telemetry.Event, error) {
		var (
			ev  telemetry.Event
			tok string
		)
		if err := row.Scan(&tok, &ev.Kind, &ev.GatewayURL, &ev.MerchantID, &ev.Integration, &ev.Timestamp); err != nil {
			return telemetry.Event{}, err
		}
		ev.Session = domain.SessionToken(tok)
		ev.Timestamp = ev.Timestamp.UTC()
		return ev, nil
	})
}
