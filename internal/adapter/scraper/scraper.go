// Package scraper fetches product pages and turns them into observed
// snapshots.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

var (
	ErrPriceNotFound    = errors.New("price not found on page")
	ErrUnexpectedStatus = errors.New("unexpected http status")
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; pricewatch/1.0)"
	maxPageBytes     = 8 << 20
)

type Options struct {
	Timeout    time.Duration
	UserAgent  string
	RatePerSec float64
	Burst      int
}

type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	now       func() time.Time
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: ua,
		now:       time.Now,
	}
}

// Fetch downloads the page at identity and extracts title, price and
// availability. Requests are paced by the fetcher's limiter.
func (f *HTTPFetcher) Fetch(ctx context.Context, identity string) (domain.ObservedSnapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.ObservedSnapshot{}, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identity, nil)
	if err != nil {
		return domain.ObservedSnapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.ObservedSnapshot{}, fmt.Errorf("get %s: %w", identity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.ObservedSnapshot{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return domain.ObservedSnapshot{}, fmt.Errorf("parse html: %w", err)
	}

	snap, err := Extract(doc)
	if err != nil {
		return domain.ObservedSnapshot{}, err
	}
	snap.Identity = identity
	snap.ObservedAt = f.now()
	return snap, nil
}

// Extract reads a snapshot out of a parsed product page. Identity and
// ObservedAt are left for the caller.
func Extract(doc *html.Node) (domain.ObservedSnapshot, error) {
	var snap domain.ObservedSnapshot

	snap.Title = extractTitle(doc)

	price, ok := extractPrice(doc)
	if !ok {
		return snap, ErrPriceNotFound
	}
	snap.CurrentPrice = price

	snap.Availability = extractAvailability(doc)
	return snap, nil
}

func extractTitle(doc *html.Node) string {
	if n := findFirst(doc, byID("productTitle")); n != nil {
		if t := textOf(n); t != "" {
			return t
		}
	}
	if n := findFirst(doc, byTag("title")); n != nil {
		return textOf(n)
	}
	return ""
}

func extractPrice(doc *html.Node) (decimal.Decimal, bool) {
	candidates := []func() string{
		func() string {
			box := findFirst(doc, byClass("a-price"))
			if box == nil {
				return ""
			}
			if n := findFirst(box, byClass("a-offscreen")); n != nil {
				return textOf(n)
			}
			return ""
		},
		func() string {
			if n := findFirst(doc, byID("priceblock_ourprice")); n != nil {
				return textOf(n)
			}
			return ""
		},
		func() string {
			n := findFirst(doc, func(n *html.Node) bool {
				return n.Type == html.ElementNode && n.Data == "meta" && attr(n, "itemprop") == "price"
			})
			if n != nil {
				return attr(n, "content")
			}
			return ""
		},
		func() string {
			n := findFirst(doc, func(n *html.Node) bool {
				return n.Type == html.ElementNode && hasAttr(n, "data-price")
			})
			if n != nil {
				return attr(n, "data-price")
			}
			return ""
		},
	}

	for _, c := range candidates {
		if p, err := ParsePrice(c()); err == nil {
			return p, true
		}
	}
	return decimal.Decimal{}, false
}

func extractAvailability(doc *html.Node) domain.Availability {
	n := findFirst(doc, byID("availability"))
	if n == nil {
		return domain.AvailabilityInStock
	}
	text := strings.ToLower(textOf(n))
	switch {
	case strings.Contains(text, "out of stock"), strings.Contains(text, "currently unavailable"):
		return domain.AvailabilityOutOfStock
	default:
		return domain.AvailabilityInStock
	}
}

// ParsePrice reads a display price such as "$1,299.99" or "19,90 €".
func ParsePrice(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")
	if s == "" {
		return decimal.Decimal{}, ErrPriceNotFound
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot && len(s)-lastComma-1 == 2:
		// comma is the decimal separator
		s = strings.ReplaceAll(s[:lastComma], ".", "") + "." + s[lastComma+1:]
	default:
		s = strings.ReplaceAll(s, ",", "")
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrPriceNotFound, raw)
	}

	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrPriceNotFound, raw)
	}
	return p, nil
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && attr(n, "id") == id
	}
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func byClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
