package inbox

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Bulk instruction actions.
const (
	ActionChangePrice   = "change_price"
	ActionEndListing    = "end_listing"
	ActionChangeDetails = "change_details"
	ActionReview        = "review"
)

// BulkInstruction is a request that targets many listings by search term
// instead of by listing id, e.g. "change all the silver chains to $19.95".
type BulkInstruction struct {
	SearchTerms []string            `json:"search_terms"`
	Price       decimal.NullDecimal `json:"price"`
	ItemCount   int                 `json:"item_count,omitempty"`
	Action      string              `json:"action"`
	Notes       string              `json:"notes,omitempty"`
}

// SearchURLs returns a Seller Hub active-listing search per search term.
func (b BulkInstruction) SearchURLs() []string {
	urls := make([]string, 0, len(b.SearchTerms))
	for _, term := range b.SearchTerms {
		urls = append(urls, SellerHubSearchURL(term))
	}
	return urls
}

// SellerHubSearchURL builds the active-listing search page for a term.
func SellerHubSearchURL(term string) string {
	return "https://www.ebay.com/sh/lst/active?search=" + url.QueryEscape(term)
}

// Verbs that turn "all X" into an instruction rather than small talk.
const bulkVerbs = `(?:change|lower|raise|increase|reduce|drop|set|update|mark\s+down|end|remove|delete|relist)`

var (
	bulkVerb = regexp.MustCompile(`(?i)\b` + bulkVerbs + `\b`)

	bulkPrice = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d{1,2})?)`)

	countPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s+of\s+them`),
		regexp.MustCompile(`(?i)\babout\s+(\d+)`),
		regexp.MustCompile(`(?i)\baround\s+(\d+)`),
		regexp.MustCompile(`(?i)\bapproximately\s+(\d+)`),
		regexp.MustCompile(`(?i)there\s+are\s+(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s+items?\b`),
	}

	quotedTerm = regexp.MustCompile(`["“”]([^"“”]+)["“”]`)

	allTermPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)\b` + bulkVerbs + `\s+(?:the\s+prices?\s+(?:of|on|for)\s+)?all\s+(?:of\s+)?(?:the\s+|my\s+)?([a-z][a-z ]{2,30}?)(?:\s+to\b|\s+at\b|\s*\$|[.,!?]|$)`),
		regexp.MustCompile(`(?i)\bchange\s+(?:all\s+)?(?:the\s+)?([a-z][a-z ]{2,30}?)(?:\s+to\b|\s+at\b|\s*\$)`),
	}

	genericTerms = map[string]bool{
		"price": true, "prices": true, "them": true, "it": true,
		"listing": true, "listings": true, "items": true, "of them": true,
	}

	trailingJoin = regexp.MustCompile(`(?i)\s+(to|at|for)$`)
	parenNote    = regexp.MustCompile(`\(([^)]+)\)`)

	endVerbs  = regexp.MustCompile(`(?i)\b(end|remove|delete|take\s+down)\b`)
	detailCue = regexp.MustCompile(`(?i)\b(title|header|description)\b`)
	relistCue = regexp.MustCompile(`(?i)\brelist`)
)

// ParseInstruction parses a message that names no listing id. It reports
// ok only when the body uses an instruction verb, targets listings by search
// term and carries either a target price or an end-listing verb.
func ParseInstruction(subject, body string) (BulkInstruction, bool) {
	var b BulkInstruction
	text := subject + "\n" + body

	if !bulkVerb.MatchString(body) {
		return b, false
	}
	b.SearchTerms = searchTerms(body)
	if len(b.SearchTerms) == 0 {
		return b, false
	}

	if m := bulkPrice.FindStringSubmatch(body); m != nil {
		if d, ok := parseAmount(m[1]); ok {
			b.Price = decimal.NewNullDecimal(d)
		}
	}

	for _, re := range countPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				b.ItemCount = n
				break
			}
		}
	}

	switch {
	case endVerbs.MatchString(text) && !relistCue.MatchString(text):
		b.Action = ActionEndListing
	case b.Price.Valid:
		b.Action = ActionChangePrice
	case detailCue.MatchString(text):
		b.Action = ActionChangeDetails
	default:
		b.Action = ActionReview
	}

	var notes []string
	for _, m := range parenNote.FindAllStringSubmatch(body, -1) {
		notes = append(notes, strings.TrimSpace(m[1]))
	}
	b.Notes = strings.Join(notes, "; ")

	return b, b.Price.Valid || b.Action == ActionEndListing
}

func searchTerms(body string) []string {
	var raw []string
	for _, m := range quotedTerm.FindAllStringSubmatch(body, -1) {
		raw = append(raw, m[1])
	}
	for _, re := range allTermPatterns {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			raw = append(raw, m[1])
		}
	}

	var terms []string
	for _, term := range raw {
		term = strings.TrimRight(strings.TrimSpace(term), " ,.")
		term = trailingJoin.ReplaceAllString(term, "")
		if len(term) < 3 || genericTerms[strings.ToLower(term)] {
			continue
		}
		if !containsFold(terms, term) {
			terms = append(terms, term)
		}
	}
	return terms
}

func containsFold(list []string, s string) bool {
	for _, existing := range list {
		if strings.EqualFold(existing, s) {
			return true
		}
	}
	return false
}
