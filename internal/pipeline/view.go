package pipeline

import (
	"github.com/relist-ops/relist/internal/history"
	"github.com/relist-ops/relist/internal/inbox"
)

// groupOrder is the display order of a batch view. Review and bulk items sit
// after the per-listing work so they read as a separate section.
var groupOrder = []inbox.Category{
	inbox.CategoryEndAndRelist,
	inbox.CategoryPriceRevision,
	inbox.CategoryTitleOnly,
	inbox.CategoryBulkInstruction,
	inbox.CategoryNeedsReview,
}

// Group is one category section of a View.
type Group struct {
	Category inbox.Category  `json:"category"`
	Label    string          `json:"label"`
	Entries  []history.Entry `json:"entries"`
}

// View is what the operator sees for one batch.
type View struct {
	Groups    []Group  `json:"groups"`
	BatchSize int      `json:"batch_size"`
	Fetched   int      `json:"fetched"`
	Skipped   int      `json:"skipped"`
	Deferred  int      `json:"deferred"` // unread actionable messages held back by the batch size
	Reminder  int      `json:"reminder"` // entries shown earlier and still not committed
	Unshown   int      `json:"unshown"`  // pending entries no batch has shown yet
	Warnings  []string `json:"warnings,omitempty"`
}

// Entries returns every shown entry in display order.
func (v *View) Entries() []history.Entry {
	var out []history.Entry
	for _, g := range v.Groups {
		out = append(out, g.Entries...)
	}
	return out
}

// Group returns the section for c, or nil when it is empty.
func (v *View) Group(c inbox.Category) *Group {
	for i := range v.Groups {
		if v.Groups[i].Category == c {
			return &v.Groups[i]
		}
	}
	return nil
}

// Actionable counts entries that need work on a single listing.
func (v *View) Actionable() int {
	n := 0
	for _, g := range v.Groups {
		if g.Category.Actionable() {
			n += len(g.Entries)
		}
	}
	return n
}

// Empty reports whether nothing is waiting.
func (v *View) Empty() bool { return len(v.Groups) == 0 }

func buildGroups(entries []history.Entry) []Group {
	byCat := make(map[inbox.Category][]history.Entry)
	for _, e := range entries {
		byCat[e.Category()] = append(byCat[e.Category()], e)
	}
	var groups []Group
	for _, c := range groupOrder {
		if len(byCat[c]) == 0 {
			continue
		}
		groups = append(groups, Group{Category: c, Label: c.Label(), Entries: byCat[c]})
	}
	return groups
}

// CommitReport describes a Done call.
type CommitReport struct {
	Records    []history.Record `json:"records"`
	Retired    int              `json:"retired"`
	MarkedRead int              `json:"marked_read"`
	Moved      int              `json:"moved"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// UndoReport describes an Undo call.
type UndoReport struct {
	Records  []history.Record `json:"records"`
	NotFound []string         `json:"not_found,omitempty"`
	Reopened int              `json:"reopened"`
	Warnings []string         `json:"warnings,omitempty"`
}
