package surface

import "strings"

var allowedStyleProperties = map[string]bool{
	"appearance":                  true,
	"color":                       true,
	"direction":                   true,
	"font":                        true,
	"font-family":                 true,
	"font-size":                   true,
	"font-size-adjust":            true,
	"font-stretch":                true,
	"font-style":                  true,
	"font-variant":                true,
	"font-variant-alternates":     true,
	"font-variant-caps":           true,
	"font-variant-east-asian":     true,
	"font-variant-ligatures":      true,
	"font-variant-numeric":        true,
	"font-weight":                 true,
	"letter-spacing":              true,
	"line-height":                 true,
	"opacity":                     true,
	"outline":                     true,
	"margin":                      true,
	"padding":                     true,
	"text-align":                  true,
	"text-shadow":                 true,
	"transition":                  true,
	"-moz-appearance":             true,
	"-moz-osx-font-smoothing":     true,
	"-moz-tap-highlight-color":    true,
	"-moz-transition":             true,
	"-webkit-appearance":          true,
	"-webkit-font-smoothing":      true,
	"-webkit-tap-highlight-color": true,
	"-webkit-transition":          true,
}

// FilterStyles drops every property outside the allow-list, and values that
// could load remote content. Selectors with nothing left are removed.
func FilterStyles(styles map[string]map[string]string) map[string]map[string]string {
	if len(styles) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(styles))
	for selector, props := range styles {
		kept := make(map[string]string, len(props))
		for prop, value := range props {
			p := strings.ToLower(strings.TrimSpace(prop))
			if !allowedStyleProperties[p] || unsafeStyleValue(value) {
				continue
			}
			kept[p] = value
		}
		if len(kept) > 0 {
			out[selector] = kept
		}
	}
	return out
}

func unsafeStyleValue(v string) bool {
	v = strings.ToLower(v)
	return strings.Contains(v, "url(") || strings.Contains(v, "expression(") || strings.Contains(v, "javascript:")
}
