package domain

import "strings"

var gatewayBrandNames = map[string]CardBrand{
	"visa":             BrandVisa,
	"mastercard":       BrandMastercard,
	"american express": BrandAmericanExpress,
	"discover":         BrandDiscover,
	"jcb":              BrandJCB,
	"diners club":      BrandDinersClub,
	"maestro":          BrandMaestro,
	"unionpay":         BrandUnionPay,
}

// BrandFromGatewayName maps a gateway display name ("American Express") to a CardBrand.
func BrandFromGatewayName(name string) (CardBrand, bool) {
	b, ok := gatewayBrandNames[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

// DisplayName is the gateway-facing name of the brand.
func (b CardBrand) DisplayName() string {
	switch b {
	case BrandVisa:
		return "Visa"
	case BrandMastercard:
		return "MasterCard"
	case BrandAmericanExpress:
		return "American Express"
	case BrandDiscover:
		return "Discover"
	case BrandJCB:
		return "JCB"
	case BrandDinersClub:
		return "Diners Club"
	case BrandMaestro:
		return "Maestro"
	case BrandUnionPay:
		return "UnionPay"
	default:
		return string(b)
	}
}

// CardBrands lists every recognized brand.
var CardBrands = []CardBrand{
	BrandVisa,
	BrandMastercard,
	BrandAmericanExpress,
	BrandDiscover,
	BrandJCB,
	BrandDinersClub,
	BrandMaestro,
	BrandUnionPay,
}

// ParseCardBrand returns the brand named by its hyphenated identifier.
func ParseCardBrand(s string) (CardBrand, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, b := range CardBrands {
		if string(b) == s {
			return b, true
		}
	}
	return "", false
}
