package inbox

import (
	"regexp"
	"strings"
)

// Category is the single action class assigned to a message.
type Category string

const (
	CategoryEndAndRelist    Category = "end_and_relist"   // end the listing, sell similar
	CategoryPriceRevision   Category = "price_revision"   // revise price in place
	CategoryTitleOnly       Category = "title_only"       // header/description/photo edit, no price
	CategoryBulkInstruction Category = "bulk_instruction" // targets listings by search term
	CategoryNeedsReview     Category = "needs_review"     // operator must read the message
	CategorySkip            Category = "skip"             // replies and non-actionable mail
)

// Actionable reports whether the category is operator work that counts
// toward the batch size.
func (c Category) Actionable() bool {
	switch c {
	case CategoryEndAndRelist, CategoryPriceRevision, CategoryTitleOnly:
		return true
	}
	return false
}

// Label is the heading used when rendering a category.
func (c Category) Label() string {
	switch c {
	case CategoryEndAndRelist:
		return "End & Relist"
	case CategoryPriceRevision:
		return "Price Revision"
	case CategoryTitleOnly:
		return "Title / Description Only"
	case CategoryBulkInstruction:
		return "Bulk Instructions"
	case CategoryNeedsReview:
		return "Needs Review"
	}
	return "Skipped"
}

// BuyerBlock asks the operator to add a buyer to the blocked bidder list.
type BuyerBlock struct {
	BuyerName string `json:"buyer_name"`
}

// Classification is the result of running the decision rules on a message.
type Classification struct {
	Category           Category         `json:"category"`
	Fields             Fields           `json:"fields"`
	RelistCurrentPrice bool             `json:"relist_current_price,omitempty"`
	Block              *BuyerBlock      `json:"block,omitempty"`
	Bulk               *BulkInstruction `json:"bulk,omitempty"`
	ReviewReason       string           `json:"review_reason,omitempty"`
	Proposed           Category         `json:"proposed,omitempty"` // category before a review override
	Rule               string           `json:"rule"`
	Reason             string           `json:"reason"`
	Preview            []string         `json:"preview,omitempty"`
}

// Input is everything the decision rules look at.
type Input struct {
	Normalized Normalized
	Fields     Fields

	listNew     bool
	blockIntent bool
	bulk        *BulkInstruction
}

type decisionRule struct {
	name  string
	match func(in *Input) bool
	apply func(in *Input) Classification
}

// Decision rules, evaluated top to bottom; the first match wins.
// "list new" must be checked before the revision cues: "list new and raise
// to $X" is an end-and-relist, not a revision.
var decisionRules = []decisionRule{
	{
		name:  "reply",
		match: func(in *Input) bool { return in.Normalized.IsReply },
		apply: func(in *Input) Classification {
			return skip("reply chain")
		},
	},
	{
		name:  "no-listing-id",
		match: func(in *Input) bool { return in.Fields.ListingID == "" && in.bulk == nil },
		apply: func(in *Input) Classification {
			return skip("no listing id and no bulk instruction")
		},
	},
	{
		name:  "bulk-instruction",
		match: func(in *Input) bool { return in.Fields.ListingID == "" },
		apply: func(in *Input) Classification {
			return Classification{
				Category: CategoryBulkInstruction,
				Bulk:     in.bulk,
				Reason:   "instruction targets listings by search term: " + strings.Join(in.bulk.SearchTerms, ", "),
			}
		},
	},
	{
		name:  "list-new-current-price",
		match: func(in *Input) bool { return !in.Fields.HasAmount() && in.listNew },
		apply: func(in *Input) Classification {
			return Classification{
				Category:           CategoryEndAndRelist,
				RelistCurrentPrice: true,
				Reason:             "list new with no price: relist at the current price",
			}
		},
	},
	{
		name:  "title-only",
		match: func(in *Input) bool { return !in.Fields.HasAmount() && in.Fields.HasNote(titleNoteKeywords...) },
		apply: func(in *Input) Classification {
			return Classification{Category: CategoryTitleOnly, Reason: "title or description change without a price"}
		},
	},
	{
		name:  "list-new",
		match: func(in *Input) bool { return in.Fields.HasAmount() && in.listNew },
		apply: func(in *Input) Classification {
			return Classification{
				Category: CategoryEndAndRelist,
				Reason:   "list new at " + in.Fields.Amount.Decimal.StringFixed(2),
			}
		},
	},
	{
		name:  "price-revision",
		match: func(in *Input) bool { return in.Fields.HasAmount() && !in.listNew },
		apply: func(in *Input) Classification {
			return Classification{
				Category: CategoryPriceRevision,
				Reason:   in.Fields.AmountCue + " " + in.Fields.Amount.Decimal.StringFixed(2),
			}
		},
	},
	{
		name:  "unrecognized",
		match: func(in *Input) bool { return true },
		apply: func(in *Input) Classification {
			return Classification{
				Category:     CategoryNeedsReview,
				ReviewReason: "unrecognized instruction pattern",
				Reason:       "unrecognized instruction pattern",
			}
		},
	},
}

var blockIntent = regexp.MustCompile(`\b(block|ban|blocked\s+bidders?)\b`)

// Classify normalizes, extracts and classifies a message.
func Classify(msg Message) Classification {
	n, f := prepare(msg)
	return ClassifyInput(Input{Normalized: n, Fields: f})
}

// ClassifyInput applies the decision rules and then the refinements that
// attach a buyer block or force a review.
func ClassifyInput(in Input) Classification {
	in.listNew = HasListNewCue(in.Normalized.Body) || in.Fields.AmountCue == CueListNew || in.Fields.AmountCue == CueListAt
	in.blockIntent = blockIntent.MatchString(in.Normalized.Body)
	if in.Fields.ListingID == "" {
		if b, ok := ParseInstruction(in.Normalized.Subject, in.Normalized.Text); ok {
			in.bulk = &b
		}
	}

	var c Classification
	for _, rule := range decisionRules {
		if rule.match(&in) {
			c = rule.apply(&in)
			c.Rule = rule.name
			break
		}
	}
	if c.Category == CategorySkip {
		return c
	}
	c.Fields = in.Fields

	if in.Fields.BuyerName != "" && in.blockIntent {
		c.Block = &BuyerBlock{BuyerName: in.Fields.BuyerName}
	}

	if c.Category != CategoryBulkInstruction {
		if reasons := reviewReasons(in.Fields); len(reasons) > 0 {
			c.Proposed = c.Category
			c.Category = CategoryNeedsReview
			c.ReviewReason = strings.Join(reasons, "; ")
		}
	}

	if c.Category == CategoryNeedsReview || (c.Category == CategoryTitleOnly && in.Fields.NewTitle == "") {
		c.Preview = preview(in.Normalized.Lines(), 5)
	}
	return c
}

// reviewReasons lists the expectations a message's notes set up but the
// markup does not meet.
func reviewReasons(f Fields) []string {
	var reasons []string
	if f.HasNote(headerKeywords...) && !f.Markup.HasUse() {
		reasons = append(reasons, "'change header' mentioned but no blue text found")
	}
	if f.HasNote(descriptionKeywords...) && !f.Markup.HasRemove() {
		reasons = append(reasons, "'change description' mentioned but no red text found")
	}
	if f.HasNote(KeywordGalleryPhoto) {
		reasons = append(reasons, "gallery photo change requested - verify manually")
	}
	return reasons
}

func skip(reason string) Classification {
	return Classification{Category: CategorySkip, Reason: reason}
}

func preview(lines []string, max int) []string {
	if len(lines) > max {
		lines = lines[:max]
	}
	return lines
}

// prepare picks the text body (falling back to rendered HTML), normalizes
// it and extracts fields.
func prepare(msg Message) (Normalized, Fields) {
	body := msg.Body
	if strings.TrimSpace(body) == "" && msg.HTMLBody != "" {
		body = htmlToText(msg.HTMLBody)
	}
	n := Normalize(msg.Subject, body)
	f := ExtractNormalized(n, msg.HTMLBody)
	f.MessageID = msg.ID

	if f.ListingID == "" {
		for _, link := range htmlLinks(msg.HTMLBody) {
			if id := listingIDFrom(link); id != "" {
				f.ListingID = id
				break
			}
		}
	}
	if f.ListingID == "" {
		f.ListingID = listingIDFrom(n.Subject)
	}
	return n, f
}
