// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package weight

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// LbPerGallon is the density used for liquid conversion (water).
const LbPerGallon = 8.34

var textPolicy = bluemonday.StrictPolicy()

// StripHTML returns the visible text of s with whitespace collapsed.
func StripHTML(s string) string {
	// Keep words in adjacent elements apart once tags are dropped.
	s = strings.ReplaceAll(s, "<", " <")
	return strings.Join(strings.Fields(html.UnescapeString(textPolicy.Sanitize(s))), " ")
}

var weightRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*-?\s*(pounds?|lbs?|ounces?|oz|kilograms?|kgs?|grams?|g)\b`)

var liquidRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*-?\s*(gallons?|gal|fl\.?\s*oz|fluid\s+ounces?|quarts?|qt|liters?|litres?|l)\b`)

// WeightMatch is a weight expression found in text.
type WeightMatch struct {
	Match  string
	Pounds float64
}

// ExtractWeight finds the first weight expression in text ("50 lb",
// "12 oz", "2.5 kg", "500 g") and converts it to pounds. Fluid ounces are
// volumes and never match.
func ExtractWeight(text string) (WeightMatch, bool) {
	for _, m := range weightRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil || n <= 0 {
			continue
		}
		unit := strings.ToLower(m[2])
		var lb float64
		switch {
		case strings.HasPrefix(unit, "lb"), strings.HasPrefix(unit, "pound"):
			lb = n
		case unit == "oz", strings.HasPrefix(unit, "ounce"):
			lb = n / 16
		case strings.HasPrefix(unit, "k"):
			lb = n * 2.20462
		default:
			lb = n / types.PoundsToGrams
		}
		return WeightMatch{Match: m[0], Pounds: lb}, true
	}
	return WeightMatch{}, false
}

// LiquidMatch is a liquid volume found in text, converted to pounds.
type LiquidMatch struct {
	Match   string
	Gallons float64
	Pounds  float64
}

// ExtractLiquid finds the first liquid volume in text ("5 gallon", "32 fl oz",
// "2 qt", "4 L") and converts it to pounds at LbPerGallon.
func ExtractLiquid(text string) (LiquidMatch, bool) {
	for _, m := range liquidRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil || n <= 0 {
			continue
		}
		unit := strings.ToLower(m[2])
		var gal float64
		switch {
		case strings.HasPrefix(unit, "gal"):
			gal = n
		case strings.HasPrefix(unit, "fl"):
			gal = n / 128
		case strings.HasPrefix(unit, "q"):
			gal = n / 4
		default:
			gal = n * 0.264172
		}
		return LiquidMatch{Match: m[0], Gallons: gal, Pounds: gal * LbPerGallon}, true
	}
	return LiquidMatch{}, false
}
