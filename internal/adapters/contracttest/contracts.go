package contracttest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	idempotencyport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/idempotency"
	telemetryport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/telemetry"
)

type CleanupFunc = func()

type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)
type TelemetrySinkFactory func(t *testing.T) (telemetryport.Sink, CleanupFunc)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	session := domain.SessionToken(uuid.NewString())
	fp := idempotencyport.Fingerprint{
		Key:      idempotencyport.Key(uuid.NewString()),
		Session:  session,
		Method:   "POST",
		Route:    "/sessions/{token}/tokenize",
		BodyHash: "",
	}
	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get before Put: ok=%v err=%v", ok, err)
	}

	rec := idempotencyport.Record{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"result":{"nonce":"n-1"}}`),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(got.Body) != string(rec.Body) || got.ContentType != "application/json" || got.StatusCode != 200 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// A different body hash is a different submission.
	other := fp
	other.BodyHash = "deadbeef"
	if _, ok, err := store.Get(ctx, other); err != nil || ok {
		t.Fatalf("expected miss for different body hash, ok=%v err=%v", ok, err)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte(`{"result":{"nonce":"n-2"}}`)
	if err := store.Put(ctx, fp, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, fp)
	if err != nil || !ok || string(got.Body) != string(rec2.Body) {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}
}

func RunTelemetrySink(t *testing.T, newSink TelemetrySinkFactory) {
	t.Helper()
	ctx := context.Background()

	sink, cleanup := newSink(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	session := domain.SessionToken(uuid.NewString())
	base := time.Unix(5000, 0).UTC()
	for i, kind := range []string{"custom.hosted-fields.tokenization.failed", "custom.hosted-fields.tokenization.succeeded"} {
		if err := sink.Record(ctx, telemetryport.Event{
			Kind:        kind,
			Session:     session,
			GatewayURL:  "http://gateway.test",
			MerchantID:  "merchant-1",
			Integration: "custom",
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := sink.Record(ctx, telemetryport.Event{
		Kind:      "custom.hosted-fields.tokenization.succeeded",
		Session:   domain.SessionToken(uuid.NewString()),
		Timestamp: base,
	}); err != nil {
		t.Fatalf("Record other session: %v", err)
	}

	got, err := sink.List(ctx, session)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != "custom.hosted-fields.tokenization.failed" || got[1].Kind != "custom.hosted-fields.tokenization.succeeded" {
		t.Fatalf("unexpected ordering: %#v", got)
	}
	if got[0].MerchantID != "merchant-1" || !got[0].Timestamp.Equal(base) {
		t.Fatalf("unexpected event: %#v", got[0])
	}
}
