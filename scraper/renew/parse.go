package renew

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	// priceTextRegexp matches a five-digit euro amount as displayed on detail
	// pages, e.g. "24 990 €", "24.990€" or "24990 €".
	priceTextRegexp = regexp.MustCompile(`\d{2}[\s.\x{00a0}]?\d{3}\s*€`)
	digitsRegexp    = regexp.MustCompile(`[^\d]`)

	soldByRegexp        = regexp.MustCompile(`(?i)Vendu par\s*:?\s*(.*?)(?:\d{5}|-)`)
	leadingBrandRegexp  = regexp.MustCompile(`(?i)^renault\s+`)
	coordinatesPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/maps/dir//([-+]?\d+\.\d+),([-+]?\d+\.\d+)`),
		regexp.MustCompile(`@([-+]?\d+\.\d+),([-+]?\d+\.\d+)`),
		regexp.MustCompile(`q=([-+]?\d+\.\d+),([-+]?\d+\.\d+)`),
		regexp.MustCompile(`([-+]?\d+\.\d+),([-+]?\d+\.\d+)`),
	}
)

// ParsePrice normalizes displayed price text to whole euros. Currency symbols,
// spaces and thousands separators are stripped; text with no digits yields nil
// rather than an error, so an unpriced listing never aborts a record.
func ParsePrice(raw string) *int {
	digits := digitsRegexp.ReplaceAllString(raw, "")
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

func extractPrice(fullText string) *int {
	match := priceTextRegexp.FindString(fullText)
	if match == "" {
		return nil
	}
	return ParsePrice(match)
}

func extractTitle(doc *goquery.Document) string {
	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		if t := normalizeText(h1.Text()); t != "" {
			return t
		}
	}
	if title := doc.Find("title").First(); title.Length() > 0 {
		if t := normalizeText(title.Text()); t != "" {
			return t
		}
	}
	return "Unknown Vehicle"
}

func extractColor(doc *goquery.Document) string {
	color := "inconnu"
	doc.Find("li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		text := strings.ToLower(normalizeText(li.Text()))
		if !strings.Contains(text, "couleur") {
			return true
		}
		if strong := li.Find("strong").First(); strong.Length() > 0 {
			color = strings.ToLower(normalizeText(strong.Text()))
			return false
		}
		if idx := strings.LastIndex(text, ":"); idx >= 0 {
			color = strings.TrimSpace(text[idx+1:])
			return false
		}
		return true
	})
	return color
}

var packKeywords = []string{"pack", "vision", "driving", "augment", "harman"}

func extractPacks(doc *goquery.Document) string {
	seen := make(map[string]struct{})
	var packs []string

	doc.Find("ul li").Each(func(_ int, li *goquery.Selection) {
		text := normalizeText(li.Text())
		lower := strings.ToLower(text)
		for _, k := range packKeywords {
			if strings.Contains(lower, k) {
				if _, dup := seen[text]; !dup {
					seen[text] = struct{}{}
					packs = append(packs, text)
				}
				break
			}
		}
	})

	if len(packs) == 0 {
		return "None"
	}
	sort.Strings(packs)
	return strings.Join(packs, ", ")
}

func extractLocation(doc *goquery.Document, fullText string) string {
	var location string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		class, _ := a.Attr("class")
		if !strings.Contains(strings.ToLower(class), "dealerinfos") {
			return true
		}
		text := normalizeText(a.Text())
		location = titleCase(leadingBrandRegexp.ReplaceAllString(text, ""))
		return false
	})
	if location != "" {
		return location
	}

	if m := soldByRegexp.FindStringSubmatch(fullText); m != nil {
		name := strings.TrimSpace(m[1])
		if len(name) > 30 {
			name = name[:30]
		}
		name = strings.ReplaceAll(name, "RENAULT ", "")
		if name = titleCase(name); name != "" {
			return name
		}
	}

	return "Unknown Location"
}

func extractSeatType(fullText string) string {
	switch {
	case strings.Contains(fullText, "alcantara") || strings.Contains(fullText, "tissu"):
		return "alcantara"
	case strings.Contains(fullText, "sellerie cuir riviera gris"):
		return "cuir blanc"
	default:
		return "unsure"
	}
}

var photoAltKeywords = []string{"megane", "véhicule", "vehicle", "voiture"}

func extractPhotoURL(doc *goquery.Document, base *url.URL) string {
	// Main product image, identified by class.
	var found string
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		class, _ := img.Attr("class")
		lower := strings.ToLower(class)
		for _, k := range []string{"product", "vehicle", "main", "hero"} {
			if strings.Contains(lower, k) {
				if src, ok := img.Attr("src"); ok && src != "" {
					found = resolveURL(base, src)
					return false
				}
			}
		}
		return true
	})
	if found != "" {
		return found
	}

	// Image inside a picture element.
	if img := doc.Find("picture img").First(); img.Length() > 0 {
		if src, ok := img.Attr("src"); ok && src != "" {
			return resolveURL(base, src)
		}
	}

	// Alt text naming the vehicle.
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		alt := strings.ToLower(img.AttrOr("alt", ""))
		src := img.AttrOr("src", "")
		if src == "" {
			return true
		}
		for _, k := range photoAltKeywords {
			if strings.Contains(alt, k) {
				found = resolveURL(base, src)
				return false
			}
		}
		return true
	})
	if found != "" {
		return found
	}

	// Last resort: first large-looking image that is not a logo or icon.
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := img.AttrOr("src", "")
		if src == "" {
			return true
		}
		lower := strings.ToLower(src)
		if strings.Contains(lower, "logo") || strings.Contains(lower, "icon") {
			return true
		}
		width := img.AttrOr("width", "")
		if width == "" {
			found = resolveURL(base, src)
			return false
		}
		if n, err := strconv.Atoi(width); err == nil && n > 200 {
			found = resolveURL(base, src)
			return false
		}
		return true
	})
	return found
}

// extractCoordinates pulls dealer GPS coordinates out of Google Maps links.
// Loose matches are only accepted when they fall within mainland France.
func extractCoordinates(doc *goquery.Document) (*float64, *float64) {
	var lat, lon *float64

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		text := strings.ToLower(normalizeText(a.Text()))

		isMaps := strings.Contains(href, "google.com/maps") ||
			(strings.Contains(href, "maps") &&
				(strings.Contains(text, "itinéraire") || strings.Contains(text, "direction")))
		if !isMaps {
			return true
		}

		for _, pattern := range coordinatesPatterns {
			m := pattern.FindStringSubmatch(href)
			if m == nil {
				continue
			}
			la, errLa := strconv.ParseFloat(m[1], 64)
			lo, errLo := strconv.ParseFloat(m[2], 64)
			if errLa != nil || errLo != nil {
				continue
			}
			if la < 41 || la > 51 || lo < -5 || lo > 10 {
				continue
			}
			lat, lon = &la, &lo
			return false
		}
		return true
	})

	return lat, lon
}

func resolveURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

// normalizeText trims and collapses all internal whitespace to single spaces.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
