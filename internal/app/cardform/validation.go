package cardform

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

type prefixRange struct{ lo, hi int }

type brandRule struct {
	brand    domain.CardBrand
	prefixes []prefixRange
	lengths  []int
	cvvLen   int
	luhn     bool
}

// Ordered so that narrower prefixes win over broader ones.
var brandRules = []brandRule{
	{domain.BrandAmericanExpress, []prefixRange{{34, 34}, {37, 37}}, []int{15}, 4, true},
	{domain.BrandDinersClub, []prefixRange{{300, 305}, {36, 36}, {38, 39}}, []int{14, 16, 19}, 3, true},
	{domain.BrandDiscover, []prefixRange{{6011, 6011}, {644, 649}, {65, 65}}, []int{16, 19}, 3, true},
	{domain.BrandJCB, []prefixRange{{3528, 3589}}, []int{16, 17, 18, 19}, 3, true},
	{domain.BrandMastercard, []prefixRange{{51, 55}, {2221, 2720}}, []int{16}, 3, true},
	{domain.BrandUnionPay, []prefixRange{{62, 62}}, []int{14, 15, 16, 17, 18, 19}, 3, false},
	{domain.BrandMaestro, []prefixRange{{50, 50}, {56, 59}, {63, 63}, {67, 67}}, []int{12, 13, 14, 15, 16, 17, 18, 19}, 3, true},
	{domain.BrandVisa, []prefixRange{{4, 4}}, []int{16, 18, 19}, 3, true},
}

// DetectBrand returns the brand whose prefix table matches digits.
func DetectBrand(digits string) (domain.CardBrand, bool) {
	r, ok := ruleFor(digits)
	if !ok {
		return "", false
	}
	return r.brand, true
}

func ruleFor(digits string) (brandRule, bool) {
	if digits == "" || !allDigits(digits) {
		return brandRule{}, false
	}
	for _, r := range brandRules {
		for _, p := range r.prefixes {
			n := len(strconv.Itoa(p.lo))
			if len(digits) < n {
				continue
			}
			v, _ := strconv.Atoi(digits[:n])
			if v >= p.lo && v <= p.hi {
				return r, true
			}
		}
	}
	return brandRule{}, false
}

// Luhn reports whether digits passes the mod-10 checksum.
func Luhn(digits string) bool {
	if digits == "" || !allDigits(digits) {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

type verdict struct {
	valid, potentiallyValid bool
}

func validateNumber(value string, accepted map[domain.CardBrand]bool) verdict {
	digits := domain.NormalizeDigits(value)
	if digits == "" {
		return verdict{potentiallyValid: true}
	}
	if !allDigits(digits) || len(digits) > 19 {
		return verdict{}
	}
	rule, ok := ruleFor(digits)
	if !ok {
		return verdict{potentiallyValid: len(digits) < 4}
	}
	if accepted != nil && !accepted[rule.brand] {
		return verdict{}
	}
	maxLen := rule.lengths[len(rule.lengths)-1]
	lengthOK := false
	for _, l := range rule.lengths {
		if len(digits) == l {
			lengthOK = true
			break
		}
	}
	valid := lengthOK && (!rule.luhn || Luhn(digits))
	return verdict{valid: valid, potentiallyValid: valid || len(digits) < maxLen}
}

func validateCVV(value string, numberValue string) verdict {
	v := strings.TrimSpace(value)
	if v == "" {
		return verdict{potentiallyValid: true}
	}
	if !allDigits(v) {
		return verdict{}
	}
	lengths := []int{3, 4}
	if rule, ok := ruleFor(domain.NormalizeDigits(numberValue)); ok {
		lengths = []int{rule.cvvLen}
	}
	for _, l := range lengths {
		if len(v) == l {
			return verdict{valid: true, potentiallyValid: true}
		}
	}
	return verdict{potentiallyValid: len(v) < lengths[len(lengths)-1]}
}

// ParseExpirationDate accepts "MM / YYYY", "MM/YY", "MMYY" and "MMYYYY".
// Two-digit years are widened with now's century.
func ParseExpirationDate(value string, now time.Time) (month, year string, ok bool) {
	compact := strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	var m, y string
	if i := strings.Index(compact, "/"); i >= 0 {
		m, y = compact[:i], compact[i+1:]
	} else {
		switch len(compact) {
		case 4, 6:
			m, y = compact[:2], compact[2:]
		case 3, 5:
			m, y = compact[:1], compact[1:]
		default:
			return "", "", false
		}
	}
	if !allDigits(m) || !allDigits(y) || len(m) == 0 || len(m) > 2 || (len(y) != 2 && len(y) != 4) {
		return "", "", false
	}
	return m, WidenYear(y, now), true
}

// WidenYear prefixes a two-digit year with the leading two digits of now's year.
func WidenYear(year string, now time.Time) string {
	if len(year) != 2 {
		return year
	}
	return strconv.Itoa(now.Year())[:2] + year
}

func validateExpirationDate(value string, now time.Time) verdict {
	if strings.TrimSpace(value) == "" {
		return verdict{potentiallyValid: true}
	}
	m, y, ok := ParseExpirationDate(value, now)
	if !ok {
		return verdict{potentiallyValid: len(strings.TrimSpace(value)) < 7}
	}
	month, _ := strconv.Atoi(m)
	year, _ := strconv.Atoi(y)
	if month < 1 || month > 12 {
		return verdict{}
	}
	if !yearInRange(year, now) {
		return verdict{}
	}
	if year == now.Year() && month < int(now.Month()) {
		return verdict{}
	}
	return verdict{valid: true, potentiallyValid: true}
}

func validateExpirationMonth(value string) verdict {
	v := strings.TrimSpace(value)
	if v == "" {
		return verdict{potentiallyValid: true}
	}
	if !allDigits(v) || len(v) > 2 {
		return verdict{}
	}
	month, _ := strconv.Atoi(v)
	if month < 1 || month > 12 {
		return verdict{potentiallyValid: v == "0"}
	}
	return verdict{valid: true, potentiallyValid: true}
}

func validateExpirationYear(value string, now time.Time) verdict {
	v := strings.TrimSpace(value)
	if v == "" {
		return verdict{potentiallyValid: true}
	}
	if !allDigits(v) || (len(v) != 2 && len(v) != 4) {
		return verdict{potentiallyValid: allDigits(v) && len(v) < 4}
	}
	year, _ := strconv.Atoi(WidenYear(v, now))
	if !yearInRange(year, now) {
		return verdict{}
	}
	return verdict{valid: true, potentiallyValid: true}
}

// maxExpirationYears bounds how far in the future an expiry may be.
const maxExpirationYears = 19

func yearInRange(year int, now time.Time) bool {
	return year >= now.Year() && year <= now.Year()+maxExpirationYears
}

func validatePostalCode(value string) verdict {
	v := strings.TrimSpace(value)
	if v == "" {
		return verdict{potentiallyValid: true}
	}
	alnum := 0
	for _, r := range v {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			alnum++
		case r == ' ' || r == '-':
		default:
			return verdict{}
		}
	}
	if len([]rune(v)) > 10 || alnum == 0 {
		return verdict{}
	}
	return verdict{valid: len([]rune(v)) >= 3, potentiallyValid: true}
}

func validateCardholderName(value string) verdict {
	v := strings.TrimSpace(value)
	if v == "" {
		return verdict{potentiallyValid: true}
	}
	if len([]rune(v)) > 255 {
		return verdict{}
	}
	return verdict{valid: true, potentiallyValid: true}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
