package orchestrator

import (
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

// AcceptedBrands merges the brands the gateway supports with the merchant's
// per-brand overrides. An override of true adds a brand, false removes it.
// Gateway names with no known brand are ignored.
func AcceptedBrands(gatewayNames []string, overrides map[domain.CardBrand]bool) map[domain.CardBrand]bool {
	out := make(map[domain.CardBrand]bool, len(gatewayNames)+len(overrides))
	for _, name := range gatewayNames {
		if b, ok := domain.BrandFromGatewayName(name); ok {
			out[b] = true
		}
	}
	for b, accepted := range overrides {
		out[b] = accepted
	}
	return out
}

func (o *Orchestrator) restrictsBrands() bool {
	if len(o.opts.SupportedCardBrands) > 0 {
		return true
	}
	for _, cfg := range o.opts.Fields {
		if cfg.RejectUnsupportedCards {
			return true
		}
	}
	return false
}
