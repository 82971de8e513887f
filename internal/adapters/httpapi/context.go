package httpapi

import (
	"context"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/headless"
)

type sessionKey struct{}

func WithSession(ctx context.Context, s *headless.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFromContext(ctx context.Context) (*headless.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*headless.Session)
	return s, ok && s != nil
}
