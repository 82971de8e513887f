// Package analytics records fire-and-forget telemetry events tagged with the
// gateway client's configuration.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/deferred"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/telemetry"
)

// Integration tags events from this service.
const Integration = "custom"

type Reporter struct {
	sink    telemetry.Sink
	session domain.SessionToken
	clk     clockport.Clock
	log     *zap.Logger

	// Timeout bounds both the wait for a pending client and the sink write.
	Timeout time.Duration

	wg sync.WaitGroup
}

func NewReporter(sink telemetry.Sink, session domain.SessionToken, clk clockport.Clock, log *zap.Logger) *Reporter {
	return &Reporter{
		sink:    sink,
		session: session,
		clk:     clk,
		log:     logging.OrNop(log),
		Timeout: 5 * time.Second,
	}
}

// SendEvent records name in the background once client settles. Failures are
// logged and never reach the caller.
func (r *Reporter) SendEvent(client *deferred.Value[gateway.Client], name string) {
	if r == nil || r.sink == nil {
		return
	}
	ts := r.clk.Now()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
		defer cancel()

		ev := telemetry.Event{
			Kind:        name,
			Session:     r.session,
			Integration: Integration,
			Timestamp:   ts,
		}
		if client != nil {
			if c, err := client.Wait(ctx); err == nil && c != nil {
				cfg := c.Configuration()
				ev.GatewayURL = cfg.GatewayURL
				ev.MerchantID = cfg.MerchantAccountID
			}
		}
		if err := r.sink.Record(ctx, ev); err != nil {
			r.log.Warn("telemetry event dropped", zap.String("event", name), zap.Error(err))
		}
	}()
}

// Flush waits for in-flight events.
func (r *Reporter) Flush() {
	r.wg.Wait()
}
