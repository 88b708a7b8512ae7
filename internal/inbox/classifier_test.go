package inbox

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const itemURL = "https://www.ebay.com/itm/123456789012"

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		body     string
		html     string
		expected Category
		amount   string
		rule     string
	}{
		{
			name:     "list new and raise to resolves to end and relist",
			subject:  "Brass Koala",
			body:     "List new and raise to $69.50\n" + itemURL,
			expected: CategoryEndAndRelist,
			amount:   "69.50",
			rule:     "list-new",
		},
		{
			name:     "raise to alone is a price revision",
			subject:  "Brass Koala",
			body:     "Raise to $150.00\n" + itemURL,
			expected: CategoryPriceRevision,
			amount:   "150.00",
			rule:     "price-revision",
		},
		{
			name:     "lower to bare number",
			subject:  "Silver chain",
			body:     itemURL + "\nlower to 20",
			expected: CategoryPriceRevision,
			amount:   "20",
			rule:     "price-revision",
		},
		{
			name:     "new price cue",
			subject:  "Silver chain",
			body:     itemURL + "\nNew price: $24.95",
			expected: CategoryPriceRevision,
			amount:   "24.95",
			rule:     "price-revision",
		},
		{
			name:     "list new typo ne",
			subject:  "Coin card",
			body:     "List ne $79.50\n" + itemURL,
			expected: CategoryEndAndRelist,
			amount:   "79.50",
			rule:     "list-new",
		},
		{
			name:     "list new typo lst",
			subject:  "Coin card",
			body:     "Lst new $5.00\n" + itemURL,
			expected: CategoryEndAndRelist,
			amount:   "5.00",
			rule:     "list-new",
		},
		{
			name:     "list new bare number",
			subject:  "Coin card",
			body:     "List new 25\n" + itemURL,
			expected: CategoryEndAndRelist,
			amount:   "25",
			rule:     "list-new",
		},
		{
			name:     "list new at bare number",
			subject:  "Coin card",
			body:     "List new at 25\n" + itemURL,
			expected: CategoryEndAndRelist,
			amount:   "25",
			rule:     "list-new",
		},
		{
			name:     "list quantity at price relists",
			subject:  "Coin card",
			body:     "List 2 at $9.99\n" + itemURL,
			expected: CategoryEndAndRelist,
			amount:   "9.99",
			rule:     "list-new",
		},
		{
			name:     "list quantity with at sign",
			subject:  "Coin card",
			body:     itemURL + "\nlist 3 @ $4.50",
			expected: CategoryEndAndRelist,
			amount:   "4.50",
			rule:     "list-new",
		},
		{
			name:     "list new without price keeps current price",
			subject:  "Coin card",
			body:     "List new\n" + itemURL,
			expected: CategoryEndAndRelist,
			rule:     "list-new-current-price",
		},
		{
			name:     "reply chain is skipped even with instructions",
			subject:  "RE: Brass Koala",
			body:     "List new $5.00\n" + itemURL,
			expected: CategorySkip,
			rule:     "reply",
		},
		{
			name:     "no listing id and no bulk cue",
			subject:  "Hello",
			body:     "Thanks for everything! Hope you're all well.",
			expected: CategorySkip,
			rule:     "no-listing-id",
		},
		{
			name:     "small talk with all and a dollar amount",
			subject:  "Thanks",
			body:     "Thanks! All the items look great, sold one for $20",
			expected: CategorySkip,
			rule:     "no-listing-id",
		},
		{
			name:     "quoted term without an instruction verb",
			subject:  "Sold",
			body:     `The "frame up card" sold for $7.95 yesterday`,
			expected: CategorySkip,
			rule:     "no-listing-id",
		},
		{
			name:     "bulk price change",
			subject:  "Change",
			body:     `Please change all the coin cards "frame up card" to $7.95. I think there are 10 of them`,
			expected: CategoryBulkInstruction,
			rule:     "bulk-instruction",
		},
		{
			name:     "bulk end listing",
			subject:  "End listings",
			body:     "Please end all the broken items",
			expected: CategoryBulkInstruction,
			rule:     "bulk-instruction",
		},
		{
			name:     "title in body with dollar sign and blue markup",
			subject:  "$1 Rare Brass Koala Bear | eBay",
			body:     "Change header to\n$1 Rare Brass Koala Bear\n" + itemURL,
			html:     `<p>Change header to</p><p><font color="#0432ff">$1 Rare Brass Koala Bear</font></p>`,
			expected: CategoryTitleOnly,
			rule:     "title-only",
		},
		{
			name:     "header change without blue text needs review",
			subject:  "Koala",
			body:     "Change header\nVintage Koala Bear\n" + itemURL,
			expected: CategoryNeedsReview,
			rule:     "title-only",
		},
		{
			name:     "gallery photo needs review",
			subject:  "Koala",
			body:     "Change gallery photo to the second one\n" + itemURL,
			expected: CategoryNeedsReview,
			rule:     "title-only",
		},
		{
			name:     "unrecognized instruction with a listing id",
			subject:  "Koala",
			body:     "Hi, can you look at this one\n" + itemURL,
			expected: CategoryNeedsReview,
			rule:     "unrecognized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(Message{ID: "m1", Subject: tt.subject, Body: tt.body, HTMLBody: tt.html})
			if c.Category != tt.expected {
				t.Errorf("got %s, want %s (rule %s, reason %q)", c.Category, tt.expected, c.Rule, c.Reason)
			}
			if c.Rule != tt.rule {
				t.Errorf("rule: got %s, want %s", c.Rule, tt.rule)
			}
			if tt.amount != "" {
				want := decimal.RequireFromString(tt.amount)
				if !c.Fields.Amount.Valid || !c.Fields.Amount.Decimal.Equal(want) {
					t.Errorf("amount: got %v, want %s", c.Fields.Amount, tt.amount)
				}
			}
		})
	}
}

func TestReplyAlwaysSkips(t *testing.T) {
	bodies := []string{
		"List new and raise to $69.50\n" + itemURL,
		"Raise to $150.00\n" + itemURL,
		"Change header\n" + itemURL,
		"Please change all the silver chains to $19.95",
		"",
	}
	subjects := []string{"Re: Koala", "RE: Koala", "re:Koala", "Re[2]: Koala", "  Re : Koala"}

	for _, subject := range subjects {
		for _, body := range bodies {
			c := Classify(Message{ID: "m1", Subject: subject, Body: body})
			if c.Category != CategorySkip {
				t.Errorf("subject %q body %q: got %s, want %s", subject, body, c.Category, CategorySkip)
			}
		}
	}
}

func TestListNewPrecedenceOverRevision(t *testing.T) {
	// Same cues in both orders; list new must always win.
	bodies := []string{
		"List new and raise to $69.50\n" + itemURL,
		"Raise to $69.50 and list new\n" + itemURL,
		itemURL + "\nlist new, lower to $69.50",
	}
	for _, body := range bodies {
		c := Classify(Message{ID: "m1", Subject: "Koala", Body: body})
		if c.Category != CategoryEndAndRelist {
			t.Errorf("body %q: got %s, want %s", body, c.Category, CategoryEndAndRelist)
		}
		if got := c.Fields.Amount.Decimal.StringFixed(2); got != "69.50" {
			t.Errorf("body %q: amount got %s, want 69.50", body, got)
		}
	}
}

func TestReviewReasons(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		html     string
		reason   string
		proposed Category
	}{
		{
			name:     "header without blue",
			body:     "Change header\n" + itemURL,
			reason:   "'change header' mentioned but no blue text found",
			proposed: CategoryTitleOnly,
		},
		{
			name:     "description without red",
			body:     "Change description\n" + itemURL,
			html:     `<font color="blue">keep</font>`,
			reason:   "'change description' mentioned but no red text found",
			proposed: CategoryTitleOnly,
		},
		{
			name:     "gallery photo with a price",
			body:     "Raise to $20\nChange gallery photo\n" + itemURL,
			reason:   "gallery photo change requested - verify manually",
			proposed: CategoryPriceRevision,
		},
		{
			name:     "several reasons joined",
			body:     "Change the header\nChange the description\n" + itemURL,
			reason:   "'change header' mentioned but no blue text found; 'change description' mentioned but no red text found",
			proposed: CategoryTitleOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(Message{ID: "m1", Subject: "Koala", Body: tt.body, HTMLBody: tt.html})
			if c.Category != CategoryNeedsReview {
				t.Fatalf("got %s, want %s", c.Category, CategoryNeedsReview)
			}
			if c.ReviewReason != tt.reason {
				t.Errorf("reason: got %q, want %q", c.ReviewReason, tt.reason)
			}
			if c.Proposed != tt.proposed {
				t.Errorf("proposed: got %s, want %s", c.Proposed, tt.proposed)
			}
			if len(c.Preview) == 0 {
				t.Errorf("expected a body preview for review items")
			}
		})
	}
}

func TestBuyerBlockIsOrthogonal(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected Category
		buyer    string
	}{
		{
			name:     "block with price revision",
			body:     "Lower to $20\nPlease block buyer: jdoe_77\n" + itemURL,
			expected: CategoryPriceRevision,
			buyer:    "jdoe_77",
		},
		{
			name:     "block with list new",
			body:     "List new $12.99\nblock bidder koala.fan\n" + itemURL,
			expected: CategoryEndAndRelist,
			buyer:    "koala.fan",
		},
		{
			name:     "block without a name",
			body:     "Raise to $30\nblock this buyer\n" + itemURL,
			expected: CategoryPriceRevision,
		},
		{
			name:     "buyer name without block intent",
			body:     "Raise to $30\nBuyer: koala.fan asked about it\n" + itemURL,
			expected: CategoryPriceRevision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(Message{ID: "m1", Subject: "Koala", Body: tt.body})
			if c.Category != tt.expected {
				t.Errorf("got %s, want %s", c.Category, tt.expected)
			}
			if tt.buyer == "" {
				if c.Block != nil {
					t.Errorf("unexpected block for %q", c.Block.BuyerName)
				}
				return
			}
			if c.Block == nil || c.Block.BuyerName != tt.buyer {
				t.Errorf("block: got %+v, want %s", c.Block, tt.buyer)
			}
		})
	}
}

func TestBulkInstructionPayload(t *testing.T) {
	c := Classify(Message{
		ID:      "m1",
		Subject: "Change",
		Body:    `Please change all the coin cards "frame up card" to $7.95. I think there are 10 of them (the ones with red borders)`,
	})
	if c.Category != CategoryBulkInstruction || c.Bulk == nil {
		t.Fatalf("got %s, want %s", c.Category, CategoryBulkInstruction)
	}
	if got := c.Bulk.Price.Decimal.StringFixed(2); got != "7.95" {
		t.Errorf("price: got %s, want 7.95", got)
	}
	if c.Bulk.ItemCount != 10 {
		t.Errorf("item count: got %d, want 10", c.Bulk.ItemCount)
	}
	if c.Bulk.Action != ActionChangePrice {
		t.Errorf("action: got %s, want %s", c.Bulk.Action, ActionChangePrice)
	}
	if len(c.Bulk.SearchTerms) == 0 || c.Bulk.SearchTerms[0] != "frame up card" {
		t.Errorf("search terms: got %v", c.Bulk.SearchTerms)
	}
	if c.Bulk.Notes != "the ones with red borders" {
		t.Errorf("notes: got %q", c.Bulk.Notes)
	}
	urls := c.Bulk.SearchURLs()
	if len(urls) == 0 || !strings.HasSuffix(urls[0], "search=frame+up+card") {
		t.Errorf("search urls: got %v", urls)
	}
}

func TestClassifyUsesHTMLWhenTextMissing(t *testing.T) {
	c := Classify(Message{
		ID:       "m1",
		Subject:  "Koala",
		HTMLBody: `<div>Raise to $45.00</div><div><a href="` + itemURL + `">listing</a></div>`,
	})
	if c.Category != CategoryPriceRevision {
		t.Fatalf("got %s, want %s", c.Category, CategoryPriceRevision)
	}
	if c.Fields.ListingID != "123456789012" {
		t.Errorf("listing id: got %s", c.Fields.ListingID)
	}
}

func TestParseInstructionNeedsInstructionVerb(t *testing.T) {
	tests := []struct {
		body string
		ok   bool
	}{
		{"Thanks! All the items look great, sold one for $20", false},
		{"All the silver chains are gorgeous at $19.95", false},
		{"Please lower all the silver chains to $19.95", true},
		{"Set all my brass koalas to $12", true},
		{"Remove all the broken items", true},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			_, ok := ParseInstruction("", tt.body)
			if ok != tt.ok {
				t.Errorf("got %v, want %v", ok, tt.ok)
			}
		})
	}
}
