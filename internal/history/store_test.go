package history

import (
	"errors"
	"testing"
	"time"

	"github.com/relist-ops/relist/internal/inbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func message(id, listing, body string, at time.Time) inbox.Message {
	return inbox.Message{
		ID:         id,
		Subject:    "Brass Koala",
		Body:       body + "\nhttps://www.ebay.com/itm/" + listing,
		ReceivedAt: at,
		Unread:     true,
	}
}

func merge(t *testing.T, s *Store, msg inbox.Message) MergeResult {
	t.Helper()
	res, err := s.Merge(inbox.Classify(msg), msg)
	require.NoError(t, err)
	return res
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(NewMemoryBackend(), WithClock(func() time.Time { return t0.Add(time.Hour) }))
	require.NoError(t, err)
	return s
}

func TestMergeAddsOnePendingEntryPerMessage(t *testing.T) {
	s := openMemory(t)

	res := merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	assert.Equal(t, OutcomeAdded, res.Outcome)
	assert.Equal(t, "111111111", res.Key)

	res = merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	res = merge(t, s, message("m2", "222222222", "List new $5.00", t0))
	assert.Equal(t, OutcomeAdded, res.Outcome)

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, inbox.CategoryPriceRevision, pending[0].Category())
	assert.Equal(t, inbox.CategoryEndAndRelist, pending[1].Category())
}

func TestMergeSkipNeverEntersState(t *testing.T) {
	s := openMemory(t)
	msg := message("m1", "111111111", "Raise to $10", t0)
	msg.Subject = "Re: Brass Koala"

	res := merge(t, s, msg)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, s.Entries())
}

func TestSyntheticKeyForBulkInstruction(t *testing.T) {
	s := openMemory(t)
	msg := inbox.Message{ID: "bulk-1", Subject: "Chains", Body: "Please lower all the silver chains to $19.95", ReceivedAt: t0}

	c := inbox.Classify(msg)
	require.Equal(t, inbox.CategoryBulkInstruction, c.Category)

	res, err := s.Merge(c, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdded, res.Outcome)
	assert.Equal(t, KeyFor(c, "bulk-1"), res.Key)
	assert.Regexp(t, `^msg-[0-9a-f]{8}-[0-9a-f]{4}$`, res.Key)
	assert.Equal(t, res.Key, KeyFor(c, "bulk-1"), "keys are deterministic")
}

func TestFollowUpSupersedesLedgerRecord(t *testing.T) {
	s := openMemory(t)

	merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	_, err := s.Commit([]string{"111111111"})
	require.NoError(t, err)
	require.True(t, s.IsCompleted("111111111"))

	// Same message again, or an older one, stays completed.
	assert.Equal(t, OutcomeCompleted, merge(t, s, message("m1", "111111111", "Raise to $10", t0)).Outcome)
	assert.Equal(t, OutcomeCompleted, merge(t, s, message("m0", "111111111", "Raise to $8", t0.Add(-time.Hour))).Outcome)
	assert.Empty(t, s.Pending())

	res := merge(t, s, message("m2", "111111111", "List new $12.00", t0.Add(time.Minute)))
	assert.Equal(t, OutcomeFollowUp, res.Outcome)
	assert.Contains(t, res.Warning, "follow-up detected")
	assert.False(t, s.IsCompleted("111111111"), "old ledger record removed")

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "m2", pending[0].MessageID)
	assert.True(t, pending[0].FollowUp)
	assert.Equal(t, inbox.CategoryEndAndRelist, pending[0].Category())
}

func TestEqualTimestampIsNotNewer(t *testing.T) {
	s := openMemory(t)
	merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	_, err := s.Commit([]string{"111111111"})
	require.NoError(t, err)

	res := merge(t, s, message("m2", "111111111", "Raise to $12", t0))
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, s.IsCompleted("111111111"))
}

func TestPendingSupersession(t *testing.T) {
	s := openMemory(t)

	merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	res := merge(t, s, message("m2", "111111111", "Raise to $15", t0.Add(time.Hour)))
	assert.Equal(t, OutcomeSuperseded, res.Outcome)
	assert.NotEmpty(t, res.Warning)

	res = merge(t, s, message("m0", "111111111", "Raise to $5", t0.Add(-time.Hour)))
	assert.Equal(t, OutcomeStale, res.Outcome)

	pending := s.Pending()
	require.Len(t, pending, 1, "one active entry per listing")
	assert.Equal(t, "m2", pending[0].MessageID)
	assert.Len(t, s.Entries(), 3)

	out, err := s.Commit([]string{"111111111"})
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "m2", out.Records[0].MessageID)
	assert.Len(t, out.Removed, 3, "superseded entries retire with the active one")
	assert.Empty(t, s.Entries())
}

func TestCommitIsIdempotent(t *testing.T) {
	s := openMemory(t)
	merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	merge(t, s, message("m2", "222222222", "Raise to $20", t0))

	first, err := s.Commit([]string{"111111111", "222222222"})
	require.NoError(t, err)
	assert.Len(t, first.Records, 2)
	ledger := s.Ledger()

	second, err := s.Commit([]string{"111111111", "222222222"})
	require.NoError(t, err)
	assert.Empty(t, second.Records)
	assert.Equal(t, ledger, s.Ledger())
	assert.Empty(t, s.Pending())
}

func TestCommitIgnoresUnknownKeys(t *testing.T) {
	s := openMemory(t)
	out, err := s.Commit([]string{"999999999"})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
	assert.Empty(t, s.Ledger())
}

func TestUndoRemovesLedgerOnly(t *testing.T) {
	s := openMemory(t)
	merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	_, err := s.Commit([]string{"111111111"})
	require.NoError(t, err)

	removed, err := s.Undo([]string{"111111111", "not-there"})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "m1", removed[0].MessageID)
	assert.False(t, s.IsCompleted("111111111"))
	assert.Empty(t, s.Pending(), "undo does not resurrect pending entries")

	// Once the message is offered again it is a fresh entry.
	assert.Equal(t, OutcomeAdded, merge(t, s, message("m1", "111111111", "Raise to $10", t0)).Outcome)
}

func TestCommitShownOnlyCommitsShownEntries(t *testing.T) {
	s := openMemory(t)
	merge(t, s, message("m1", "111111111", "Raise to $10", t0))
	merge(t, s, message("m2", "222222222", "Raise to $20", t0))
	require.NoError(t, s.MarkShown([]string{"111111111"}))

	out, err := s.CommitShown()
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "111111111", out.Records[0].ListingID)

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "222222222", pending[0].Key)
	assert.False(t, pending[0].Shown)
}

func TestStatistics(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	ledger := []Record{
		{ListingID: "1", Category: inbox.CategoryEndAndRelist, CommittedAt: now.Add(-time.Hour)},
		{ListingID: "2", Category: inbox.CategoryPriceRevision, CommittedAt: now.Add(-2 * time.Hour)},
		{ListingID: "3", Category: inbox.CategoryPriceRevision, CommittedAt: now.AddDate(0, 0, -3)},
		{ListingID: "4", Category: inbox.CategoryTitleOnly, CommittedAt: now.AddDate(0, 0, -6)},
		{ListingID: "5", Category: inbox.CategoryTitleOnly, CommittedAt: now.AddDate(0, 0, -7)},
	}

	st := ComputeStats(ledger, now, 7, 2)
	assert.Equal(t, 2, st.Today)
	assert.Equal(t, 4, st.Week)
	assert.Equal(t, 5, st.AllTime)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 2, st.ByCategory[inbox.CategoryPriceRevision])
	require.Len(t, st.Days, 7)
	assert.Equal(t, DayCount{Date: "2024-03-10", Count: 2}, st.Days[0])
	assert.Equal(t, DayCount{Date: "2024-03-07", Count: 1}, st.Days[3])
	assert.Equal(t, DayCount{Date: "2024-03-04", Count: 1}, st.Days[6])
}

type corruptBackend struct{ MemoryBackend }

func (b *corruptBackend) Load() (*Snapshot, error) {
	snap := &Snapshot{Ledger: []Record{{ListingID: "111111111", MessageID: "m1", CommittedAt: t0}}}
	return snap, errors.Join(&CorruptionError{Path: "pending.jsonl", Line: 3, Err: errors.New("unexpected end of JSON input")})
}

func TestOpenRecoversFromCorruption(t *testing.T) {
	s, err := Open(&corruptBackend{})
	require.NoError(t, err)
	require.Len(t, s.Warnings(), 1)
	assert.Contains(t, s.Warnings()[0], "pending.jsonl:3")
	assert.True(t, s.IsCompleted("111111111"), "readable rows are kept")
}

type brokenBackend struct{ MemoryBackend }

func (b *brokenBackend) Load() (*Snapshot, error) { return nil, errors.New("permission denied") }

func TestOpenStartsEmptyOnUnreadableBackend(t *testing.T) {
	s, err := Open(&brokenBackend{})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Empty(t, s.Entries())
	assert.Empty(t, s.Ledger())
	require.Len(t, s.Warnings(), 1)
	assert.Contains(t, s.Warnings()[0], "permission denied")

	msg := message("m1", "111111111", "Raise to $10", t0)
	_, err = s.Merge(inbox.Classify(msg), msg)
	require.NoError(t, err)
	assert.Len(t, s.Pending(), 1)
}

func TestOpenCompletesInterruptedFollowUp(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Save(&Snapshot{
		Ledger:  []Record{{ListingID: "111111111", MessageID: "m1", ReceivedAt: t0, CommittedAt: t0}},
		Pending: []Entry{{Key: "111111111", ListingID: "111111111", MessageID: "m2", ReceivedAt: t0.Add(time.Hour), FollowUp: true}},
	}))

	s, err := Open(b)
	require.NoError(t, err)
	assert.False(t, s.IsCompleted("111111111"))
	require.Len(t, s.Pending(), 1)
	assert.Equal(t, "m2", s.Pending()[0].MessageID)
}

type failingSaveBackend struct{ MemoryBackend }

func (b *failingSaveBackend) Save(*Snapshot) error { return errors.New("disk full") }

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	s, err := Open(&failingSaveBackend{})
	require.NoError(t, err)

	msg := message("m1", "111111111", "Raise to $10", t0)
	_, err = s.Merge(inbox.Classify(msg), msg)
	require.Error(t, err)
	assert.Empty(t, s.Entries())
}

func TestOpenReconcilesHalfCommittedState(t *testing.T) {
	b := NewMemoryBackend()
	entry := Entry{Key: "111111111", ListingID: "111111111", MessageID: "m1", ReceivedAt: t0}
	require.NoError(t, b.Save(&Snapshot{
		Ledger:  []Record{{ListingID: "111111111", MessageID: "m1", ReceivedAt: t0, CommittedAt: t0}},
		Pending: []Entry{entry, {Key: "222222222", MessageID: "m2", ReceivedAt: t0}, {Key: "222222222", MessageID: "m3", ReceivedAt: t0.Add(time.Hour)}},
	}))

	s, err := Open(b)
	require.NoError(t, err)
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "m3", pending[0].MessageID)
}
