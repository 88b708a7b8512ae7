package inbox

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// Fields is what the extractor pulls out of one message.
type Fields struct {
	MessageID string              `json:"message_id"`
	ListingID string              `json:"listing_id,omitempty"`
	Title     string              `json:"title,omitempty"`
	Amount    decimal.NullDecimal `json:"amount"`
	AmountCue string              `json:"amount_cue,omitempty"` // rule that produced Amount
	Quantity  int                 `json:"quantity"`
	Notes     []Note              `json:"notes,omitempty"`
	BuyerName string              `json:"buyer_name,omitempty"`
	Markup    Markup              `json:"markup"`
	NewTitle  string              `json:"new_title,omitempty"`
}

// Note is a body line that matched an instruction keyword.
type Note struct {
	Keyword string `json:"keyword"`
	Text    string `json:"text"`
}

// HasAmount reports whether an amount was extracted.
func (f Fields) HasAmount() bool { return f.Amount.Valid }

// HasNote reports whether any note matched one of the given keywords.
func (f Fields) HasNote(keywords ...string) bool {
	for _, n := range f.Notes {
		for _, k := range keywords {
			if n.Keyword == k {
				return true
			}
		}
	}
	return false
}

// ListingURLPattern matches a marketplace item URL and captures its id.
var ListingURLPattern = regexp.MustCompile(`(?i)https?://(?:www\.)?ebay\.com/itm/(?:[^/\s?#"'<>]+/)?(\d{6,})`)

const amountLoose = `\$?\s*(\d[\d,]*(?:\.\d{1,2})?)`

// Cues that anchor an end-and-relist price rather than a revision.
const (
	CueListNew = "list new"
	CueListAt  = "list at"
)

type amountRule struct {
	cue     string
	pattern *regexp.Regexp
	// notBefore rejects a match when the text right after it matches,
	// so the 2 in "list new 2 at $5" is a quantity, not a price.
	notBefore *regexp.Regexp
}

var quantityTail = regexp.MustCompile(`^\s*(?:at|@)`)

// Applied to what follows a fuzzy "list new" match.
var lineAmountRules = []amountRule{
	{cue: CueListNew, pattern: regexp.MustCompile(`^[\s:,-]*\d{1,4}\s*(?:at|@)\s*` + amountLoose)},
	{cue: CueListNew, pattern: regexp.MustCompile(`^[\s:,-]*(?:at|for|@)?\s*` + amountLoose), notBefore: quantityTail},
}

// Amount rules in evaluation order. They only ever see the body; a subject
// like "$1 Rare Brass Koala Bear" is a title, not an instruction.
// No rule matches a bare "$X".
var amountRules = []amountRule{
	{cue: CueListNew, pattern: regexp.MustCompile(`\blist\s+n[ew]{1,2}\s*\d{1,4}\s*(?:at|@)\s*` + amountLoose)},
	{cue: CueListNew, pattern: regexp.MustCompile(`\blist\s+n[ew]{1,2}\s*(?:at|for|@|:)?\s*` + amountLoose), notBefore: quantityTail},
	{cue: CueListAt, pattern: regexp.MustCompile(`\blist\s+\d{1,4}\s*(?:at|@)\s*` + amountLoose)},
	{cue: "new price", pattern: regexp.MustCompile(`\bnew\s+price\s*(?:is|of|to|:|=)?\s*` + amountLoose)},
	{cue: "price:", pattern: regexp.MustCompile(`\bprice\s*[:=]\s*` + amountLoose)},
	{cue: "raise to", pattern: regexp.MustCompile(`\b(?:raise|increase)\s+(?:it\s+|the\s+price\s+|price\s+)?to\s*` + amountLoose)},
	{cue: "lower to", pattern: regexp.MustCompile(`\b(?:lower|reduce|drop)\s+(?:it\s+|the\s+price\s+|price\s+)?to\s*` + amountLoose)},
	{cue: "change to", pattern: regexp.MustCompile(`\bchange\s+(?:it\s+|the\s+price\s+|price\s+)?to\s*` + amountLoose)},
}

var (
	quantityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:quantity|qty)\s*(?:of|:|=)?\s*(\d{1,4})\b`),
		regexp.MustCompile(`\blist\s+(?:n[ew]{1,2}\s+)?(\d{1,4})\s*(?:at|@)`),
	}

	listNewPattern = regexp.MustCompile(`\blist\s+n[ew]{1,2}\b`)

	buyerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:block|ban)\s+(?:the\s+)?(?:buyer|bidder|user)?\s*:?\s*@?([a-z0-9][a-z0-9_.*-]{2,63})`),
		regexp.MustCompile(`(?i)\bblocked\s+bidders?\s*(?:list)?\s*:?\s*@?([a-z0-9][a-z0-9_.*-]{2,63})`),
		regexp.MustCompile(`(?i)\bbuyer(?:\s+(?:name|id))?\s*[:=]\s*@?([a-z0-9][a-z0-9_.*-]{2,63})`),
	}
	buyerStopwords = map[string]bool{
		"this": true, "the": true, "that": true, "him": true, "her": true, "them": true,
		"buyer": true, "bidder": true, "bidders": true, "user": true, "list": true,
		"from": true, "and": true, "please": true,
	}

	titleSuffix = regexp.MustCompile(`(?i)\s*[|-]\s*ebay\s*$`)
)

// Note keywords, matched against each body line in order.
const (
	KeywordChangeHeader      = "change header"
	KeywordChangeTitle       = "change title"
	KeywordChangeDescription = "change description"
	KeywordNewHeader         = "new header"
	KeywordNewTitle          = "new title"
	KeywordNewDescription    = "new description"
	KeywordUpdateHeader      = "update header"
	KeywordUpdateTitle       = "update title"
	KeywordUpdateDescription = "update description"
	KeywordAddToHeader       = "add to header"
	KeywordUseThis           = "use this"
	KeywordGalleryPhoto      = "gallery photo"
	KeywordRaiseTo           = "raise to"
	KeywordLowerTo           = "lower to"
)

var noteKeywords = []string{
	KeywordChangeHeader, KeywordChangeTitle, KeywordChangeDescription,
	KeywordNewHeader, KeywordNewTitle, KeywordNewDescription,
	KeywordUpdateHeader, KeywordUpdateTitle, KeywordUpdateDescription,
	KeywordAddToHeader, KeywordUseThis, KeywordGalleryPhoto,
	KeywordRaiseTo, KeywordLowerTo,
}

// "change the header" reads the same as "change header".
var noteArticle = regexp.MustCompile(`\b(change|update|add to)\s+the\s+`)

// Header-like keywords; header and title mean the same thing to operators.
var (
	headerKeywords = []string{
		KeywordChangeHeader, KeywordChangeTitle, KeywordNewHeader, KeywordNewTitle,
		KeywordUpdateHeader, KeywordUpdateTitle, KeywordAddToHeader,
	}
	descriptionKeywords = []string{
		KeywordChangeDescription, KeywordNewDescription, KeywordUpdateDescription,
	}
	titleNoteKeywords = append(append(append([]string{}, headerKeywords...), descriptionKeywords...),
		KeywordGalleryPhoto, KeywordUseThis)
)

// Extract normalizes a message and pulls out its fields.
func Extract(msg Message) Fields {
	_, f := prepare(msg)
	return f
}

// ExtractNormalized runs the ordered extraction rules over normalized text.
// The listing id is only looked up in the body here; Extract falls back to
// HTML links and the subject.
func ExtractNormalized(n Normalized, html string) Fields {
	f := Fields{
		ListingID: listingIDFrom(n.Text),
		Title:     strings.TrimSpace(titleSuffix.ReplaceAllString(n.Subject, "")),
		Quantity:  1,
		Markup:    ExtractColoredText(html),
	}

	f.Amount, f.AmountCue = extractAmount(n)

	for _, re := range quantityPatterns {
		if m := re.FindStringSubmatch(n.Body); m != nil {
			if q, err := strconv.Atoi(m[1]); err == nil && q > 0 {
				f.Quantity = q
				break
			}
		}
	}

	f.Notes = extractNotes(n.Lines())
	f.BuyerName = extractBuyer(n.Text)
	f.NewTitle = extractNewTitle(n.Lines())
	return f
}

func listingIDFrom(s string) string {
	if m := ListingURLPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func extractAmount(n Normalized) (decimal.NullDecimal, string) {
	for _, rule := range amountRules {
		if d, ok := rule.find(n.Body); ok {
			return decimal.NewNullDecimal(d), rule.cue
		}
	}

	// Typos like "lst new $5" slip past the regex; retry line by line.
	for _, line := range strings.Split(n.Body, "\n") {
		rest, ok := fuzzyListNew(strings.TrimSpace(line))
		if !ok {
			continue
		}
		for _, rule := range lineAmountRules {
			if d, ok := rule.find(rest); ok {
				return decimal.NewNullDecimal(d), CueListNew
			}
		}
	}
	return decimal.NullDecimal{}, ""
}

func (r amountRule) find(body string) (decimal.Decimal, bool) {
	for _, loc := range r.pattern.FindAllStringSubmatchIndex(body, -1) {
		if r.notBefore != nil && r.notBefore.MatchString(body[loc[1]:]) {
			continue
		}
		var groups []string
		for i := 2; i+1 < len(loc); i += 2 {
			if loc[i] >= 0 {
				groups = append(groups, body[loc[i]:loc[i+1]])
			}
		}
		if d, ok := parseAmount(groups...); ok {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

func parseAmount(groups ...string) (decimal.Decimal, bool) {
	for _, g := range groups {
		if g == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(g, ",", ""))
		if err == nil && d.IsPositive() {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

// HasListNewCue reports whether a lowercased body asks to end and relist.
func HasListNewCue(body string) bool {
	if listNewPattern.MatchString(body) {
		return true
	}
	for _, line := range strings.Split(body, "\n") {
		if _, ok := fuzzyListNew(strings.TrimSpace(line)); ok {
			return true
		}
	}
	return false
}

// fuzzyListNew matches a line that starts with something within one edit
// of "list new" and returns the remainder of the line.
func fuzzyListNew(line string) (string, bool) {
	words := strings.Fields(strings.ToLower(line))
	if len(words) < 2 || notListWords[words[0]] {
		return "", false
	}
	if !strings.HasPrefix(words[0], "l") || !strings.HasPrefix(words[1], "n") {
		return "", false
	}
	if levenshtein.ComputeDistance(words[0]+" "+words[1], "list new") > 1 {
		return "", false
	}
	rest := strings.ToLower(line)
	rest = rest[strings.Index(rest, words[0])+len(words[0]):]
	rest = rest[strings.Index(rest, words[1])+len(words[1]):]
	return rest, true
}

var notListWords = map[string]bool{"last": true, "lost": true, "lust": true}

func extractNotes(lines []string) []Note {
	var notes []Note
	for _, line := range lines {
		lower := noteArticle.ReplaceAllString(strings.ToLower(line), "$1 ")
		if kw := matchKeyword(lower); kw != "" {
			notes = append(notes, Note{Keyword: kw, Text: line})
		}
	}
	return notes
}

func matchKeyword(lower string) string {
	for _, kw := range noteKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}

	// Tolerate a single typo in multi-word keywords ("chnge header").
	words := strings.Fields(lower)
	for i := 0; i+1 < len(words); i++ {
		pair := strings.Trim(words[i], ",.:;!") + " " + strings.Trim(words[i+1], ",.:;!")
		for _, kw := range noteKeywords {
			if len(kw) >= 10 && levenshtein.ComputeDistance(pair, kw) == 1 {
				return kw
			}
		}
	}
	return ""
}

func extractBuyer(text string) string {
	for _, re := range buyerPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.TrimRight(m[1], ".,")
			if !buyerStopwords[strings.ToLower(name)] && len(name) >= 3 {
				return name
			}
		}
	}
	return ""
}

var inlineTitle = regexp.MustCompile(`(?i)\b(?:header|title)\s+to\s*:?\s+(\S.*)$`)

var newTitleTriggers = []string{
	KeywordAddToHeader, KeywordChangeHeader, KeywordNewHeader,
	KeywordChangeTitle, KeywordNewTitle,
}

// extractNewTitle takes up to two lines following a header trigger line,
// stopping at URLs, "List ..." lines, or anything with a price in it.
func extractNewTitle(lines []string) string {
	for i, line := range lines {
		lower := noteArticle.ReplaceAllString(strings.ToLower(line), "$1 ")
		triggered := false
		for _, t := range newTitleTriggers {
			if strings.Contains(lower, t) {
				triggered = true
				break
			}
		}
		if !triggered {
			continue
		}

		// "change header to X" carries the title on the same line.
		if m := inlineTitle.FindStringSubmatch(line); m != nil && !stopsTitle(m[1]) {
			return strings.Trim(strings.TrimSpace(m[1]), `"“”`)
		}

		var parts []string
		for _, next := range lines[i+1:] {
			if len(parts) == 2 || stopsTitle(next) {
				break
			}
			parts = append(parts, next)
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func stopsTitle(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "http") ||
		strings.HasPrefix(lower, "list ") ||
		strings.Contains(line, "$")
}
