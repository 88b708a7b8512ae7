// Package pipeline runs one batch cycle: fetch unread mail, classify it,
// merge it into the store and build the view the operator works from.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/relist-ops/relist/internal/history"
	"github.com/relist-ops/relist/internal/inbox"
)

const (
	DefaultBatchSize = 5
	TestBatchSize    = 2
)

// Source is the mail store collaborator.
type Source interface {
	FetchUnread(ctx context.Context, folder string) ([]inbox.Message, error)
	MarkRead(ctx context.Context, id string) error
	MarkUnread(ctx context.Context, id string) error
	Move(ctx context.Context, id, folder string) error
}

// Options controls a Pipeline.
type Options struct {
	Folder          string
	ProcessedFolder string // committed messages are moved here when set
	BatchSize       int
	MarkRead        bool // mark committed messages read
}

// Pipeline coordinates the source, the classifier and the store. It is not
// safe for concurrent use; one operator runs one invocation at a time.
type Pipeline struct {
	src      Source
	store    *history.Store
	opts     Options
	classify func(inbox.Message) inbox.Classification
}

func New(src Source, store *history.Store, opts Options) *Pipeline {
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Pipeline{src: src, store: store, opts: opts, classify: inbox.Classify}
}

// Store returns the underlying state store.
func (p *Pipeline) Store() *history.Store { return p.store }

// BatchSize is the number of actionable entries a view holds.
func (p *Pipeline) BatchSize() int { return p.opts.BatchSize }

// Next fetches unread messages, merges up to the batch size of new
// actionable work and returns the resulting view. The ledger is never
// changed except by follow-up supersession. Shown entries are recorded so
// Done commits exactly what the operator saw.
func (p *Pipeline) Next(ctx context.Context) (*View, error) {
	view := &View{BatchSize: p.opts.BatchSize, Reminder: len(p.store.Shown())}
	view.Warnings = append(view.Warnings, p.store.Warnings()...)

	msgs, err := p.src.FetchUnread(ctx, p.opts.Folder)
	if err != nil {
		return nil, &UnavailableError{Resource: "mail folder " + p.opts.Folder, Err: err}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt) })
	view.Fetched = len(msgs)

	active := make(map[string]bool)
	budget := p.opts.BatchSize
	for _, e := range p.store.Pending() {
		active[e.Key] = true
		if e.Category().Actionable() {
			budget--
		}
	}

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := p.classify(msg)
		if c.Category == inbox.CategorySkip {
			view.Skipped++
			continue
		}

		key := history.KeyFor(c, msg.ID)
		consumes := c.Category.Actionable() && !active[key]
		if consumes && budget <= 0 {
			view.Deferred++
			continue
		}

		res, err := p.store.Merge(c, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to merge message %s: %w", msg.ID, err)
		}
		if res.Warning != "" {
			log.Printf("Warning: %s", res.Warning)
			view.Warnings = append(view.Warnings, res.Warning)
		}
		switch res.Outcome {
		case history.OutcomeAdded, history.OutcomeFollowUp:
			active[key] = true
			if c.Category.Actionable() {
				budget--
			}
		}
	}

	shown := p.selectShown(p.store.Pending())
	keys := make([]string, 0, len(shown))
	for _, e := range shown {
		keys = append(keys, e.Key)
	}
	if err := p.store.MarkShown(keys); err != nil {
		return nil, err
	}
	view.Groups = buildGroups(shown)
	return view, nil
}

// Current returns the entries the last Next marked shown, which are exactly
// what Done would commit, without fetching mail. Pending entries that were
// never shown are only counted.
func (p *Pipeline) Current() *View {
	shown := p.store.Shown()
	sort.SliceStable(shown, func(i, j int) bool { return shown[i].ReceivedAt.Before(shown[j].ReceivedAt) })
	return &View{
		BatchSize: p.opts.BatchSize,
		Reminder:  len(shown),
		Unshown:   len(p.store.Pending()) - len(shown),
		Warnings:  p.store.Warnings(),
		Groups:    buildGroups(shown),
	}
}

// selectShown keeps the oldest actionable entries up to the batch size and
// every review and bulk entry.
func (p *Pipeline) selectShown(pending []history.Entry) []history.Entry {
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].ReceivedAt.Before(pending[j].ReceivedAt) })
	var shown []history.Entry
	n := 0
	for _, e := range pending {
		if e.Category().Actionable() {
			if n >= p.opts.BatchSize {
				continue
			}
			n++
		}
		shown = append(shown, e)
	}
	return shown
}

// Done commits the entries shown by the last Next, then marks their source
// messages read and moves them to the processed folder. Mailbox updates are
// best effort: the commit stands even when they fail.
func (p *Pipeline) Done(ctx context.Context) (*CommitReport, error) {
	if len(p.store.Shown()) == 0 {
		return nil, ErrNothingShown
	}
	res, err := p.store.CommitShown()
	if err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	report := &CommitReport{Records: res.Records, Retired: len(res.Removed)}
	if !p.opts.MarkRead && p.opts.ProcessedFolder == "" {
		return report, nil
	}

	seen := make(map[string]bool)
	for _, e := range res.Removed {
		if seen[e.MessageID] {
			continue
		}
		seen[e.MessageID] = true

		if p.opts.MarkRead {
			if err := p.src.MarkRead(ctx, e.MessageID); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("could not mark %s read: %v", e.MessageID, err))
				continue
			}
			report.MarkedRead++
		}
		if p.opts.ProcessedFolder != "" {
			if err := p.src.Move(ctx, e.MessageID, p.opts.ProcessedFolder); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("could not move %s to %s: %v", e.MessageID, p.opts.ProcessedFolder, err))
				continue
			}
			report.Moved++
		}
	}
	for _, w := range report.Warnings {
		log.Printf("Warning: %s", w)
	}
	return report, nil
}

// Undo removes ids from the ledger. With reopen the source messages are
// marked unread so the next Next offers them again; without it nothing is
// re-added to pending.
func (p *Pipeline) Undo(ctx context.Context, ids []string, reopen bool) (*UndoReport, error) {
	var clean []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}

	records, err := p.store.Undo(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to undo: %w", err)
	}
	report := &UndoReport{Records: records}

	found := make(map[string]bool, len(records))
	for _, r := range records {
		found[r.ListingID] = true
	}
	for _, id := range clean {
		if !found[id] {
			report.NotFound = append(report.NotFound, id)
		}
	}

	if !reopen {
		return report, nil
	}
	for _, r := range records {
		if err := p.src.MarkUnread(ctx, r.MessageID); err != nil {
			w := fmt.Sprintf("could not mark %s unread: %v", r.MessageID, err)
			log.Printf("Warning: %s", w)
			report.Warnings = append(report.Warnings, w)
			continue
		}
		report.Reopened++
	}
	return report, nil
}

// Stats summarizes the ledger over the last days.
func (p *Pipeline) Stats(days int) history.Stats {
	return p.store.Statistics(days)
}
