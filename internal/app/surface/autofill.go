package surface

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/cardform"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
)

// DefaultPollInterval is how often companion inputs are compared against the cache.
const DefaultPollInterval = 100 * time.Millisecond

// Publisher emits bus events.
type Publisher interface {
	Emit(event string, payload any) error
}

// Synchronizer watches the number surface's companion inputs and publishes
// autofilled values.
type Synchronizer struct {
	companions Companions
	platform   Platform
	pub        Publisher
	element    Element
	interval   time.Duration
	log        *zap.Logger

	cache [3]string
}

func NewSynchronizer(companions Companions, platform Platform, pub Publisher, element Element, interval time.Duration, log *zap.Logger) *Synchronizer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Synchronizer{
		companions: companions,
		platform:   platform,
		pub:        pub,
		element:    element,
		interval:   interval,
		log:        logging.OrNop(log),
	}
}

// Prepare hides the companions from keyboard navigation, or, on platforms that
// only autofill tab-reachable inputs, makes them blur on keyboard focus.
func (s *Synchronizer) Prepare() {
	reachable := s.platform != nil && s.platform.AutofillRequiresTabReachable()
	for _, c := range s.companions.all() {
		if c == nil {
			continue
		}
		c.SetTabReachable(reachable)
		if reachable {
			c := c
			c.OnFocus(func(pointer bool) {
				if !pointer {
					c.Blur()
				}
			})
		}
	}
}

// Run polls until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Poll()
		}
	}
}

// Poll compares companion values with the cache once and publishes on change.
// It reports whether an event was published.
func (s *Synchronizer) Poll() bool {
	var cur [3]string
	for i, c := range s.companions.all() {
		if c != nil {
			cur[i] = c.Value()
		}
	}
	if cur == s.cache {
		return false
	}
	s.cache = cur

	payload := domain.AutofillPayload{Month: cur[0], Year: cur[1]}
	if cur[2] != "" {
		cvv := cur[2]
		payload.CVV = &cvv
	}
	if err := s.pub.Emit(protocol.EventAutofillDataAvailable, payload); err != nil {
		s.log.Warn("autofill publish failed", zap.Error(err))
		return false
	}
	if s.element != nil {
		s.element.Nudge()
	}
	return true
}

type autofillStrategy func(month, year string, cvv *string) (string, bool)

var autofillStrategies = map[domain.Role]autofillStrategy{
	domain.RoleExpirationDate: func(month, year string, _ *string) (string, bool) {
		return month + " / " + year, true
	},
	domain.RoleExpirationMonth: func(month, _ string, _ *string) (string, bool) {
		return month, true
	},
	domain.RoleExpirationYear: func(_, year string, _ *string) (string, bool) {
		return year, true
	},
	domain.RoleCVV: func(_, _ string, cvv *string) (string, bool) {
		if cvv == nil {
			return "", false
		}
		return *cvv, true
	},
}

// AutofillValue converts a published payload into the value for role. ok is
// false when the payload is incomplete or role takes nothing from autofill.
func AutofillValue(role domain.Role, p domain.AutofillPayload, clk clockport.Clock) (string, bool) {
	if p.Month == "" || p.Year == "" {
		return "", false
	}
	strategy, ok := autofillStrategies[role]
	if !ok {
		return "", false
	}
	return strategy(p.Month, cardform.WidenYear(p.Year, clk.Now()), p.CVV)
}

// ApplyAutofill writes value into in the way a user edit would land.
func ApplyAutofill(in Input, value string) {
	in.UpdateModel("value", value)
	if in.ShouldMask() {
		in.MaskValue(value)
	} else {
		in.SetDisplayValue(value)
	}
	in.ResetPlaceholder()
}
