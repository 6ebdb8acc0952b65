package renew

import "strings"

// Acceptance rules for a listing, evaluated against the lowercased full text
// of its detail page. A listing failing any rule is skipped, never an error.

var (
	chargeMarkers  = []string{"optimum charge", "ac22", "22kw", "22 kw"}
	excludedColors = []string{"rouge", "flamme", "noir"}
	skipKeywords   = []string{"super charge", "standard charge"}
)

// hasOptimumCharge reports whether the page mentions the 22 kW AC charger.
func hasOptimumCharge(fullText string) bool {
	for _, m := range chargeMarkers {
		if strings.Contains(fullText, m) {
			return true
		}
	}
	return false
}

// keepBladeTrim reports whether the listing passes the front-blade rule:
// an F1 blade is only rejected when it is not body-colored and the car is
// one of the grey finishes it clashes with.
func keepBladeTrim(fullText string) bool {
	if !strings.Contains(fullText, "lame f1") {
		return true
	}
	if strings.Contains(fullText, "ton caisse") {
		return true
	}
	if strings.Contains(fullText, "gris schiste") || strings.Contains(fullText, "gris rafale") {
		return false
	}
	return true
}

// colorAllowed rejects the excluded exterior colors.
func colorAllowed(color string) bool {
	lower := strings.ToLower(strings.TrimSpace(color))
	for _, excluded := range excludedColors {
		if strings.Contains(lower, excluded) {
			return false
		}
	}
	return true
}

// priceInRange checks the configured price window. A nil price cannot be
// judged and is kept so the record still reaches the catalog.
func priceInRange(price *int, min, max int) bool {
	if price == nil {
		return true
	}
	return *price >= min && *price <= max
}

// skipLinkText rejects listing links whose anchor text already names an
// unwanted charger variant, saving the detail fetch entirely.
func skipLinkText(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range skipKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
