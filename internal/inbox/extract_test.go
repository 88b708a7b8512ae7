package inbox

import (
	"testing"
)

func TestExtractListingID(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		body     string
		expected string
	}{
		{"plain url in body", "Koala", "see https://www.ebay.com/itm/123456789012 thanks", "123456789012"},
		{"url with slug", "Koala", "https://ebay.com/itm/Brass-Koala-Bear/334455667788?hash=abc", "334455667788"},
		{"body wins over subject", "https://www.ebay.com/itm/111111111", "https://www.ebay.com/itm/222222222", "222222222"},
		{"subject fallback", "https://www.ebay.com/itm/111111111", "raise to $5", "111111111"},
		{"no id", "Koala", "raise to $5", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Extract(Message{ID: "m1", Subject: tt.subject, Body: tt.body})
			if f.ListingID != tt.expected {
				t.Errorf("got %q, want %q", f.ListingID, tt.expected)
			}
		})
	}
}

func TestExtractAmountIgnoresSubject(t *testing.T) {
	f := Extract(Message{
		ID:      "m1",
		Subject: "$1 Rare Brass Koala Bear | eBay",
		Body:    "Change header\n$1 Rare Brass Koala Bear\n" + itemURL,
	})
	if f.HasAmount() {
		t.Errorf("got amount %s, want none", f.Amount.Decimal)
	}
	if f.Title != "$1 Rare Brass Koala Bear" {
		t.Errorf("title: got %q", f.Title)
	}
}

func TestExtractAmountCues(t *testing.T) {
	tests := []struct {
		body   string
		amount string
		cue    string
	}{
		{"List new $79.50", "79.50", "list new"},
		{"list new 79.50", "79.50", "list new"},
		{"List new 3 at $4.99", "4.99", "list new"},
		{"List nw $1,250.00", "1250.00", "list new"},
		{"List new 25", "25", "list new"},
		{"List new at 25", "25", "list new"},
		{"Lst new 40", "40", "list new"},
		{"List 2 at $9.99", "9.99", "list at"},
		{"list 3 @ $4.50", "4.50", "list at"},
		{"List new 2 at", "", ""},
		{"Price: $12", "12", "price:"},
		{"raise the price to $30", "30", "raise to"},
		{"Reduce to $9.99", "9.99", "lower to"},
		{"change price to $15", "15", "change to"},
		{"It sold for $40 last time", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			f := Extract(Message{ID: "m1", Subject: "Koala", Body: tt.body + "\n" + itemURL})
			if tt.amount == "" {
				if f.HasAmount() {
					t.Errorf("got %s, want none", f.Amount.Decimal)
				}
				return
			}
			if got := f.Amount.Decimal.StringFixed(2); got != mustFixed(tt.amount) {
				t.Errorf("amount: got %s, want %s", got, tt.amount)
			}
			if f.AmountCue != tt.cue {
				t.Errorf("cue: got %s, want %s", f.AmountCue, tt.cue)
			}
		})
	}
}

func TestExtractQuantity(t *testing.T) {
	tests := []struct {
		body     string
		expected int
	}{
		{"List new $4.99", 1},
		{"List new $4.99\nQty: 3", 3},
		{"quantity 12", 12},
		{"List 4 at $2.00", 4},
		{"List new 6 @ $2.00", 6},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			if got := Extract(Message{ID: "m1", Body: tt.body}).Quantity; got != tt.expected {
				t.Errorf("got %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestExtractNotesInBodyOrder(t *testing.T) {
	body := "Raise to $20\nChange the header\nnothing here\nGallery photo should be the koala\nchnge description please"
	f := Extract(Message{ID: "m1", Body: body})

	want := []string{KeywordRaiseTo, KeywordChangeHeader, KeywordGalleryPhoto, KeywordChangeDescription}
	if len(f.Notes) != len(want) {
		t.Fatalf("got %d notes %+v, want %d", len(f.Notes), f.Notes, len(want))
	}
	for i, n := range f.Notes {
		if n.Keyword != want[i] {
			t.Errorf("note %d: got %s, want %s", i, n.Keyword, want[i])
		}
	}
	if f.Notes[1].Text != "Change the header" {
		t.Errorf("note text keeps case: got %q", f.Notes[1].Text)
	}
}

func TestExtractNewTitle(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "two lines after trigger",
			body:     "Change header\nVintage Brass Koala Bear\nSolid Heavy Figurine\nThird line\n" + itemURL,
			expected: "Vintage Brass Koala Bear Solid Heavy Figurine",
		},
		{
			name:     "stops at url",
			body:     "New title\nBrass Koala\n" + itemURL,
			expected: "Brass Koala",
		},
		{
			name:     "stops at price",
			body:     "Add to header\nList new $5",
			expected: "",
		},
		{
			name:     "inline after to",
			body:     `Change the title to "Brass Koala Bear"`,
			expected: "Brass Koala Bear",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(Message{ID: "m1", Body: tt.body}).NewTitle; got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func mustFixed(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s
		}
	}
	return s + ".00"
}
