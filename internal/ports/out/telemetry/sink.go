package telemetry

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

// Event is one analytics record.
type Event struct {
	Kind        string
	Session     domain.SessionToken
	GatewayURL  string
	MerchantID  string
	Integration string
	Timestamp   time.Time
}

// Sink persists analytics events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	List(ctx context.Context, session domain.SessionToken) ([]Event, error)
}
