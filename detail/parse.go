package detail

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// SpanishMonths maps lowercase Spanish month names to month numbers, the
// locale of the source site. Other locales are supplied via Config.Months.
func SpanishMonths() map[string]time.Month {
	return map[string]time.Month{
		"enero": time.January, "febrero": time.February, "marzo": time.March,
		"abril": time.April, "mayo": time.May, "junio": time.June,
		"julio": time.July, "agosto": time.August, "septiembre": time.September,
		"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
	}
}

var (
	adminFeeRe = regexp.MustCompile(`\$\s?([\d.,]+)`)
	dateTextRe = regexp.MustCompile(`\d{1,2}\sde\s\p{L}+\sde\s\d{4}`)
	breakTagRe = regexp.MustCompile(`(?i)<\s*(?:br\s*/?|/p|/div|/li)\s*>`)
	stripper   = bluemonday.StrictPolicy()
)

// ParseAdminFee extracts an integer fee amount from currency-formatted
// text like "Administración $ 350.000". Thousand separators (dots and
// commas) are dropped. Returns nil when no amount is present.
func ParseAdminFee(text string) *int {
	m := adminFeeRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

// ExtractDateText pulls a "5 de abril de 2025"-style date out of
// surrounding text, or returns "".
func ExtractDateText(text string) string {
	return dateTextRe.FindString(strings.ToLower(text))
}

// ParsePublishDate parses a "<day> de <month> de <year>" date using the
// supplied month-name table. The result is midnight UTC of that calendar
// day.
func ParsePublishDate(text string, months map[string]time.Month) (time.Time, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(text)), " de ")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("detail: date %q: want day de month de year", text)
	}

	day, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("detail: date %q: bad day", text)
	}
	month, ok := months[strings.TrimSpace(parts[1])]
	if !ok {
		return time.Time{}, fmt.Errorf("detail: date %q: unknown month %q", text, parts[1])
	}
	year, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return time.Time{}, fmt.Errorf("detail: date %q: bad year", text)
	}

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// CleanDescription strips markup from a description fragment and
// collapses whitespace, leaving plain text.
func CleanDescription(rawHTML string) string {
	// Break tags carry word boundaries that stripping would swallow.
	spaced := breakTagRe.ReplaceAllString(rawHTML, " ")
	text := html.UnescapeString(stripper.Sanitize(spaced))
	return strings.Join(strings.Fields(text), " ")
}
