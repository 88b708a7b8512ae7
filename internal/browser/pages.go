package browser

import (
	"fmt"

	"github.com/relist-ops/relist/internal/history"
	"github.com/relist-ops/relist/internal/inbox"
)

// EndListingURL is the marketplace help page that walks through ending a
// listing early.
const EndListingURL = "https://www.ebay.com/help/action?topicid=4146"

func ItemURL(listingID string) string {
	return "https://www.ebay.com/itm/" + listingID
}

// ReviseURL opens the listing in the revise form.
func ReviseURL(listingID string) string {
	return fmt.Sprintf("https://www.ebay.com/sl/list?itemId=%s&mode=Revise", listingID)
}

// SellSimilarURL starts a new listing prefilled from an existing one.
func SellSimilarURL(listingID string) string {
	return "https://www.ebay.com/lstng/sl/" + listingID
}

// Page is one tab to open for the operator.
type Page struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Key   string `json:"key,omitempty"`
}

// PagesFor lists the tabs needed to work through entries. End-and-relist
// items start with the end-listing help page followed by each item page;
// revisions and title edits open the revise form; review items open the item
// page; bulk instructions open one Seller Hub search per term.
func PagesFor(entries []history.Entry) []Page {
	var relist, revise, review, bulk []Page
	for _, e := range entries {
		c := e.Classification
		switch c.Category {
		case inbox.CategoryEndAndRelist:
			relist = append(relist, Page{URL: ItemURL(e.ListingID), Label: "item " + e.ListingID, Key: e.Key})
		case inbox.CategoryPriceRevision, inbox.CategoryTitleOnly:
			revise = append(revise, Page{URL: ReviseURL(e.ListingID), Label: "revise " + e.ListingID, Key: e.Key})
		case inbox.CategoryNeedsReview:
			if e.ListingID != "" {
				review = append(review, Page{URL: ItemURL(e.ListingID), Label: "review " + e.ListingID, Key: e.Key})
			}
		case inbox.CategoryBulkInstruction:
			if c.Bulk == nil {
				continue
			}
			for i, u := range c.Bulk.SearchURLs() {
				bulk = append(bulk, Page{URL: u, Label: "search \"" + c.Bulk.SearchTerms[i] + "\"", Key: e.Key})
			}
		}
	}

	var pages []Page
	if len(relist) > 0 {
		pages = append(pages, Page{URL: EndListingURL, Label: "end your listing"})
		pages = append(pages, relist...)
	}
	pages = append(pages, revise...)
	pages = append(pages, review...)
	return append(pages, bulk...)
}

// URLs returns the page URLs in order.
func URLs(pages []Page) []string {
	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}
	return urls
}
