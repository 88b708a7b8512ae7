package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	ledgerFile    = "ledger.jsonl"
	pendingFile   = "pending.jsonl"
	dayCountsFile = "daycounts.json"
)

// FileBackend stores state as JSON Lines files in one directory:
//
//	ledger.jsonl     committed records
//	pending.jsonl    pending entries, superseded ones included
//	daycounts.json   per-day commit counts, rebuilt from the ledger
//
// Every file is written to a temp file and renamed into place. When the
// ledger only grows the ledger is written first, so a crash in between
// leaves a committed entry in both. When a record is dropped for a follow-up,
// pending is written first, so a crash leaves the record next to its
// follow-up. Open reconciles both.
type FileBackend struct {
	Dir string

	saved map[string]bool // ledger keys as last loaded or saved
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: strings.TrimSpace(dir)}
}

func (b *FileBackend) Load() (*Snapshot, error) {
	var snap Snapshot
	var errs []error

	if err := readLines(filepath.Join(b.Dir, ledgerFile), func(line []byte) error {
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		if r.ListingID == "" {
			return errors.New("record without listing id")
		}
		snap.Ledger = append(snap.Ledger, r)
		return nil
	}); err != nil {
		errs = append(errs, err)
	}

	if err := readLines(filepath.Join(b.Dir, pendingFile), func(line []byte) error {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		if e.Key == "" || e.MessageID == "" {
			return errors.New("entry without key or message id")
		}
		snap.Pending = append(snap.Pending, e)
		return nil
	}); err != nil {
		errs = append(errs, err)
	}

	b.saved = ledgerKeys(snap.Ledger)
	return &snap, errors.Join(errs...)
}

// readLines calls fn for each non-empty line. Lines fn rejects are skipped
// and reported as CorruptionErrors; the original file is copied aside so the
// next Save does not destroy the evidence. A file that cannot be read at all
// is moved aside and reads as empty.
func readLines(path string, fn func([]byte) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		backup := backupName(path)
		if rerr := os.Rename(path, backup); rerr != nil {
			log.Printf("Warning: could not move unreadable state file %s aside: %v", path, rerr)
		} else {
			log.Printf("Moved unreadable state file to %s", backup)
		}
		return &CorruptionError{Path: path, Err: err}
	}

	var errs []error
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			errs = append(errs, &CorruptionError{Path: path, Line: n, Err: err})
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, &CorruptionError{Path: path, Line: n + 1, Err: err})
	}

	if len(errs) > 0 {
		preserveCorrupt(path, data)
	}
	return errors.Join(errs...)
}

func backupName(path string) string {
	return fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
}

// preserveCorrupt copies data next to path unless an earlier backup already
// holds the same bytes, so repeated loads of one corrupt file keep one copy.
func preserveCorrupt(path string, data []byte) {
	existing, _ := filepath.Glob(path + ".corrupt-*")
	for _, name := range existing {
		if prev, err := os.ReadFile(name); err == nil && bytes.Equal(prev, data) {
			return
		}
	}

	backup := backupName(path)
	if err := os.WriteFile(backup, data, 0600); err != nil {
		log.Printf("Warning: could not preserve corrupt file %s: %v", path, err)
	} else {
		log.Printf("Preserved corrupt state file as %s", backup)
	}
}

func (b *FileBackend) Save(snap *Snapshot) error {
	if err := os.MkdirAll(b.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	ledger, err := encodeLines(snap.Ledger)
	if err != nil {
		return err
	}
	pending, err := encodeLines(snap.Pending)
	if err != nil {
		return err
	}

	keys := ledgerKeys(snap.Ledger)
	writes := []struct {
		name string
		data []byte
	}{{ledgerFile, ledger}, {pendingFile, pending}}
	if dropsRecord(b.saved, keys) {
		writes[0], writes[1] = writes[1], writes[0]
	}
	for _, w := range writes {
		if err := writeAtomic(filepath.Join(b.Dir, w.name), w.data); err != nil {
			return err
		}
	}
	b.saved = keys

	counts, err := json.MarshalIndent(DayCounts(snap.Ledger, time.Local), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode day counts: %w", err)
	}
	return writeAtomic(filepath.Join(b.Dir, dayCountsFile), counts)
}

func (b *FileBackend) Close() error { return nil }

func ledgerKeys(ledger []Record) map[string]bool {
	keys := make(map[string]bool, len(ledger))
	for _, r := range ledger {
		keys[r.ListingID] = true
	}
	return keys
}

func dropsRecord(before, after map[string]bool) bool {
	for k := range before {
		if !after[k] {
			return true
		}
	}
	return false
}

func encodeLines[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("failed to encode state: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// writeAtomic writes data to a temp file in the same directory, syncs it,
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
