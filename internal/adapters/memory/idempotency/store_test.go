package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/idempotency"
)

func TestStore_PutThenGet(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fp := idempotency.Fingerprint{
		Key:      "k1",
		Session:  domain.SessionToken("sess-1"),
		Method:   "POST",
		Route:    "/sessions/{token}/tokenize",
		BodyHash: "abc123",
	}
	rec := idempotency.Record{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"result":{"nonce":"n"}}`),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}

	if err := s.Put(context.Background(), fp, rec); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	rec.Body[0] = 'X'

	got, ok, err := s.Get(context.Background(), fp)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if !ok {
		t.Fatalf("Get() ok=false, want true")
	}
	if got.StatusCode != 200 || string(got.Body) != `{"result":{"nonce":"n"}}` {
		t.Fatalf("Get()=%+v, stored body should be isolated from caller", got)
	}
}

func TestStore_ForgetSession(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	a := idempotency.Fingerprint{Key: "k", Session: "a"}
	b := idempotency.Fingerprint{Key: "k", Session: "b"}
	_ = s.Put(ctx, a, idempotency.Record{StatusCode: 200})
	_ = s.Put(ctx, b, idempotency.Record{StatusCode: 200})

	if n := s.Forget("a"); n != 1 {
		t.Fatalf("Forget()=%d, want 1", n)
	}
	if _, ok, _ := s.Get(ctx, a); ok {
		t.Fatalf("record for forgotten session still present")
	}
	if _, ok, _ := s.Get(ctx, b); !ok {
		t.Fatalf("record for other session removed")
	}
}
