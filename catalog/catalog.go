// Package catalog parses paginated catalog pages of property listings into
// ListingCard values. It owns only the structural extraction; whether a card
// proceeds to detail extraction is the scan scheduler's decision.
package catalog

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Selectors locate card fields inside a catalog page. The defaults match
// the source site's current markup; they are configuration because the
// site changes class names without notice.
type Selectors struct {
	Card     string `yaml:"card"`
	Link     string `yaml:"link"`
	Price    string `yaml:"price"`
	Location string `yaml:"location"`
	Typology string `yaml:"typology"`
	Agency   string `yaml:"agency"`
}

// DefaultSelectors returns the selector set for the source site.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:     "div.listingCard",
		Link:     "a.lc-cardCover",
		Price:    "div.lc-price",
		Location: "strong.lc-location",
		Typology: "div.lc-typologyTag",
		Agency:   "strong.body.body-2.high",
	}
}

// ListingCard is one catalog entry. Immutable once created. Bedrooms,
// bathrooms and area are nil when the typology text does not match the
// configured pattern, never silently zero.
type ListingCard struct {
	Link         string     `json:"link"`
	Price        string     `json:"price"`
	Bedrooms     *int       `json:"bedrooms,omitempty"`
	Bathrooms    *int       `json:"bathrooms,omitempty"`
	Area         *int       `json:"area,omitempty"`
	Agency       string     `json:"agency"`
	Location     string     `json:"location"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// Parser extracts ListingCards from catalog pages.
type Parser struct {
	base      *url.URL
	selectors Selectors
	typology  *regexp.Regexp
	now       func() time.Time
}

// NewParser creates a Parser. baseURL resolves relative card links to
// absolute ones. typologyPattern must capture bedrooms, bathrooms and area
// as its first three groups; the exact labels are locale-specific and come
// from configuration.
func NewParser(baseURL string, sel Selectors, typologyPattern string) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: base url: %w", err)
	}
	re, err := regexp.Compile(typologyPattern)
	if err != nil {
		return nil, fmt.Errorf("catalog: typology pattern: %w", err)
	}
	if re.NumSubexp() < 3 {
		return nil, fmt.Errorf("catalog: typology pattern needs 3 capture groups, has %d", re.NumSubexp())
	}
	if sel == (Selectors{}) {
		sel = DefaultSelectors()
	}
	return &Parser{base: base, selectors: sel, typology: re, now: time.Now}, nil
}

// ParsePage parses one catalog page and returns the cards it contains,
// skipping entries whose link is missing or for which seen returns true.
// A nil seen keeps every linked card.
func (p *Parser) ParsePage(r io.Reader, seen func(link string) bool) ([]*ListingCard, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse html: %w", err)
	}

	var cards []*ListingCard
	doc.Find(p.selectors.Card).Each(func(_ int, s *goquery.Selection) {
		if card := p.parseCard(s, seen); card != nil {
			cards = append(cards, card)
		}
	})
	return cards, nil
}

// parseCard extracts one card. A nil return means "discard", not an error:
// either the entry has no link or it was already seen.
func (p *Parser) parseCard(s *goquery.Selection, seen func(string) bool) *ListingCard {
	href, ok := s.Find(p.selectors.Link).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil
	}
	link := p.absolute(strings.TrimSpace(href))
	if seen != nil && seen(link) {
		return nil
	}

	card := &ListingCard{
		Link:         link,
		Price:        text(s, p.selectors.Price),
		Agency:       text(s, p.selectors.Agency),
		Location:     text(s, p.selectors.Location),
		DiscoveredAt: p.now(),
	}

	if typ := text(s, p.selectors.Typology); typ != "" {
		if m := p.typology.FindStringSubmatch(typ); m != nil {
			card.Bedrooms = atoiPtr(m[1])
			card.Bathrooms = atoiPtr(m[2])
			card.Area = atoiPtr(m[3])
		}
	}
	return card
}

func (p *Parser) absolute(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.base.ResolveReference(u).String()
}

func text(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

// PageURL returns the catalog URL for the given 1-based page number,
// preserving existing query parameters.
func PageURL(catalogURL string, page int) (string, error) {
	u, err := url.Parse(catalogURL)
	if err != nil {
		return "", fmt.Errorf("catalog: page url: %w", err)
	}
	q := u.Query()
	if page > 1 {
		q.Set("pagina", strconv.Itoa(page))
	} else {
		q.Del("pagina")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
