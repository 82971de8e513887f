package idempotency

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

// Key is the caller-provided idempotency key (Idempotency-Key header).
type Key string

// Fingerprint identifies a tokenization submission for replay purposes:
// key + session + route + request body hash. Route is the HTTP method plus the
// route template (e.g. "POST /sessions/{token}/tokenize").
type Fingerprint struct {
	Key      Key
	Session  domain.SessionToken
	Method   string
	Route    string
	BodyHash string
}

// Record is the stored response replayed for a duplicate submission.
type Record struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
}

// Store persists replayable responses.
type Store interface {
	Get(ctx context.Context, fp Fingerprint) (Record, bool, error)
	Put(ctx context.Context, fp Fingerprint, rec Record) error
}
