package history

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relist-ops/relist/internal/inbox"
)

// Entry is a classified message waiting for the operator.
type Entry struct {
	Key            string               `json:"key"`
	ListingID      string               `json:"listing_id,omitempty"`
	MessageID      string               `json:"message_id"`
	Subject        string               `json:"subject,omitempty"`
	ReceivedAt     time.Time            `json:"received_at"`
	Classification inbox.Classification `json:"classification"`
	Superseded     bool                 `json:"superseded,omitempty"`
	FollowUp       bool                 `json:"follow_up,omitempty"`
	Shown          bool                 `json:"shown,omitempty"`
	AddedAt        time.Time            `json:"added_at"`
}

// Category is the entry's classification category.
func (e Entry) Category() inbox.Category { return e.Classification.Category }

// Record is one committed action in the ledger. ListingID holds the entry
// key, which is a synthetic key for items without a listing id.
type Record struct {
	ListingID   string         `json:"listing_id"`
	Category    inbox.Category `json:"category"`
	CommittedAt time.Time      `json:"committed_at"`
	MessageID   string         `json:"message_id"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Outcome describes what Merge did with a classification.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"           // Skip category, never stored
	OutcomeAdded      Outcome = "added"             // new pending entry
	OutcomeDuplicate  Outcome = "duplicate"         // message already pending
	OutcomeCompleted  Outcome = "already_completed" // listing committed, message not newer
	OutcomeFollowUp   Outcome = "follow_up"         // newer message reopened a committed listing
	OutcomeSuperseded Outcome = "superseded"        // newer message replaced a pending entry
	OutcomeStale      Outcome = "stale"             // older message kept as superseded
)

// MergeResult reports the outcome of merging one message.
type MergeResult struct {
	Outcome Outcome
	Key     string
	Warning string
}

// CommitResult lists what a commit changed.
type CommitResult struct {
	Records []Record // newly added ledger records
	Removed []Entry  // pending entries retired by the commit, superseded ones included
}

// Store holds pending entries and the completed ledger over a Backend.
// It assumes a single operator running one process at a time; follow-up
// detection compares message timestamps and takes no locks.
type Store struct {
	backend  Backend
	pending  []Entry
	ledger   []Record
	warnings []string
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for commit and add timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads state from b. Load failures never stop the caller: corrupt
// rows are dropped, and state that cannot be read at all opens empty. Both
// are reported through Warnings.
func Open(b Backend, opts ...Option) (*Store, error) {
	s := &Store{backend: b, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := b.Load()
	if err != nil {
		prefix := "state corruption: "
		if !errors.Is(err, ErrCorrupt) {
			prefix = "state unreadable, starting empty: "
			snap = nil
		}
		for _, line := range strings.Split(err.Error(), "\n") {
			s.warnings = append(s.warnings, prefix+line)
		}
	}
	if snap != nil {
		s.pending = snap.Pending
		s.ledger = snap.Ledger
	}
	s.reconcile()
	return s, nil
}

// reconcile restores invariants after a crash between ledger and pending
// writes: committed entries leave pending, a saved follow-up retires the
// record it replaces, and at most one entry per key stays active.
func (s *Store) reconcile() {
	var kept []Entry
	replaced := make(map[string]bool)
	for _, e := range s.pending {
		if r, ok := s.record(e.Key); ok {
			if !e.ReceivedAt.After(r.ReceivedAt) {
				continue
			}
			if e.FollowUp && !e.Superseded {
				replaced[e.Key] = true
			}
		}
		kept = append(kept, e)
	}
	if len(replaced) > 0 {
		s.ledger = removeRecords(s.ledger, replaced)
	}

	active := make(map[string]int)
	for i := range kept {
		if kept[i].Superseded {
			continue
		}
		if j, ok := active[kept[i].Key]; ok {
			older := j
			if kept[j].ReceivedAt.After(kept[i].ReceivedAt) {
				older = i
			} else {
				active[kept[i].Key] = i
			}
			kept[older].Superseded = true
			continue
		}
		active[kept[i].Key] = i
	}
	s.pending = kept
}

// Warnings returns problems found while loading state.
func (s *Store) Warnings() []string { return s.warnings }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// KeyFor returns the pending key for a classification: its listing id, or a
// key derived from the message id when there is none.
func KeyFor(c inbox.Classification, messageID string) string {
	if c.Fields.ListingID != "" {
		return c.Fields.ListingID
	}
	return "msg-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(messageID)).String()[:13]
}

// Pending returns active (non-superseded) entries in insertion order.
func (s *Store) Pending() []Entry {
	var out []Entry
	for _, e := range s.pending {
		if !e.Superseded {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns every pending entry, superseded ones included.
func (s *Store) Entries() []Entry {
	return append([]Entry(nil), s.pending...)
}

// Shown returns the active entries included in the last rendered view.
func (s *Store) Shown() []Entry {
	var out []Entry
	for _, e := range s.Pending() {
		if e.Shown {
			out = append(out, e)
		}
	}
	return out
}

// Ledger returns committed records, most recent first.
func (s *Store) Ledger() []Record {
	out := append([]Record(nil), s.ledger...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CommittedAt.After(out[j].CommittedAt) })
	return out
}

// IsCompleted reports whether a listing id (or synthetic key) is in the ledger.
func (s *Store) IsCompleted(key string) bool {
	_, ok := s.record(key)
	return ok
}

func (s *Store) record(key string) (Record, bool) {
	for _, r := range s.ledger {
		if r.ListingID == key {
			return r, true
		}
	}
	return Record{}, false
}

// Merge adds a classified message to pending state, applying follow-up
// supersession. Each call saves at most once, so a message is either fully
// merged or not at all.
func (s *Store) Merge(c inbox.Classification, msg inbox.Message) (MergeResult, error) {
	if c.Category == inbox.CategorySkip {
		return MergeResult{Outcome: OutcomeSkipped}, nil
	}

	key := KeyFor(c, msg.ID)
	res := MergeResult{Key: key}
	entry := Entry{
		Key:            key,
		ListingID:      c.Fields.ListingID,
		MessageID:      msg.ID,
		Subject:        msg.Subject,
		ReceivedAt:     msg.ReceivedAt.UTC(),
		Classification: c,
		AddedAt:        s.now().UTC(),
	}

	if r, ok := s.record(key); ok {
		if r.MessageID == msg.ID || !entry.ReceivedAt.After(r.ReceivedAt) {
			res.Outcome = OutcomeCompleted
			return res, nil
		}
		entry.FollowUp = true
		res.Outcome = OutcomeFollowUp
		res.Warning = fmt.Sprintf("follow-up detected for %s: newer message replaces record committed %s",
			key, r.CommittedAt.Local().Format("2006-01-02 15:04"))
		return res, s.save(append(s.Entries(), entry), removeRecords(s.ledger, map[string]bool{key: true}))
	}

	active := -1
	for i, e := range s.pending {
		if e.Key != key {
			continue
		}
		if e.MessageID == msg.ID {
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
		if !e.Superseded {
			active = i
		}
	}

	pending := s.Entries()
	switch {
	case active < 0:
		res.Outcome = OutcomeAdded
	case entry.ReceivedAt.After(pending[active].ReceivedAt):
		pending[active].Superseded = true
		pending[active].Shown = false
		res.Outcome = OutcomeSuperseded
		res.Warning = fmt.Sprintf("newer message replaces pending entry for %s", key)
	default:
		entry.Superseded = true
		res.Outcome = OutcomeStale
	}

	return res, s.save(append(pending, entry), s.ledger)
}

// MarkShown records which keys the operator was just shown. Only these can
// be committed by CommitShown.
func (s *Store) MarkShown(keys []string) error {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	pending := s.Entries()
	for i := range pending {
		pending[i].Shown = !pending[i].Superseded && want[pending[i].Key]
	}
	return s.save(pending, s.ledger)
}

// Commit moves the active entries for keys into the ledger. Keys already in
// the ledger and unknown keys are no-ops, so calling Commit twice with the
// same keys leaves the same state and the second call adds nothing.
func (s *Store) Commit(keys []string) (CommitResult, error) {
	var res CommitResult
	if len(keys) == 0 {
		return res, nil
	}

	retire := make(map[string]bool)
	now := s.now().UTC()

	for _, key := range keys {
		if retire[key] {
			continue
		}
		if r, ok := s.record(key); ok {
			// Already committed; drop leftovers a crash may have kept pending.
			for _, e := range s.pending {
				if e.Key == key && !e.ReceivedAt.After(r.ReceivedAt) {
					retire[key] = true
				}
			}
			continue
		}
		for _, e := range s.pending {
			if e.Key == key && !e.Superseded {
				res.Records = append(res.Records, Record{
					ListingID:   key,
					Category:    e.Category(),
					CommittedAt: now,
					MessageID:   e.MessageID,
					ReceivedAt:  e.ReceivedAt,
				})
				retire[key] = true
				break
			}
		}
	}

	if len(retire) == 0 {
		return res, nil
	}

	var kept []Entry
	for _, e := range s.pending {
		if retire[e.Key] {
			res.Removed = append(res.Removed, e)
			continue
		}
		kept = append(kept, e)
	}
	ledger := append(append([]Record(nil), s.ledger...), res.Records...)
	if err := s.save(kept, ledger); err != nil {
		return CommitResult{}, err
	}
	return res, nil
}

// CommitShown commits exactly the entries shown in the last view.
func (s *Store) CommitShown() (CommitResult, error) {
	var keys []string
	for _, e := range s.Shown() {
		keys = append(keys, e.Key)
	}
	return s.Commit(keys)
}

// Undo removes keys from the ledger and returns the removed records. It does
// not recreate pending entries; the next classification pass does that once
// the source message is unread again.
func (s *Store) Undo(keys []string) ([]Record, error) {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[strings.TrimSpace(k)] = true
	}

	var removed []Record
	for _, r := range s.ledger {
		if drop[r.ListingID] {
			removed = append(removed, r)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := s.save(s.pending, removeRecords(s.ledger, drop)); err != nil {
		return nil, err
	}
	return removed, nil
}

func removeRecords(records []Record, drop map[string]bool) []Record {
	var kept []Record
	for _, r := range records {
		if !drop[r.ListingID] {
			kept = append(kept, r)
		}
	}
	return kept
}

// save persists the next state and only then makes it current, so a failed
// write leaves the in-memory state matching what is on disk.
func (s *Store) save(pending []Entry, ledger []Record) error {
	snap := &Snapshot{Pending: pending, Ledger: ledger}
	if err := s.backend.Save(snap); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	s.pending, s.ledger = pending, ledger
	return nil
}
