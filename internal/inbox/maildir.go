package inbox

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jhillyerd/enmime"
)

// MaildirSource reads change requests from a local Maildir tree, as written
// by offlineimap, mbsync or fetchmail. Subfolders follow Maildir++ naming.
type MaildirSource struct {
	root  string
	paths map[string]string // message id -> file path
}

// NewMaildirSource creates a source rooted at a Maildir directory.
func NewMaildirSource(root string) *MaildirSource {
	return &MaildirSource{root: root, paths: make(map[string]string)}
}

func (s *MaildirSource) dir(folder string) string {
	if folder == "" || strings.EqualFold(folder, "INBOX") {
		return s.root
	}
	return filepath.Join(s.root, "."+folder)
}

// FetchUnread returns messages in new/ and messages in cur/ without the
// seen flag, oldest first.
func (s *MaildirSource) FetchUnread(ctx context.Context, folder string) ([]Message, error) {
	dir := s.dir(folder)
	if _, err := os.Stat(filepath.Join(dir, "cur")); err != nil {
		return nil, fmt.Errorf("failed to open maildir %s: %w", dir, err)
	}

	var out []Message
	for _, sub := range []string{"new", "cur"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", filepath.Join(dir, sub), err)
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if e.IsDir() || (sub == "cur" && hasFlag(e.Name(), 'S')) {
				continue
			}
			path := filepath.Join(dir, sub, e.Name())
			m, err := ReadMessageFile(path)
			if err != nil {
				log.Printf("Warning: failed to parse %s: %v", path, err)
				continue
			}
			m.Unread = true
			s.paths[m.ID] = path
			out = append(out, *m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// ReadMessageFile parses a single RFC 5322 file (an .eml or maildir entry).
func ReadMessageFile(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env, err := enmime.ReadEnvelope(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	m := &Message{
		ID:       env.GetHeader("Message-Id"),
		Path:     path,
		Subject:  env.GetHeader("Subject"),
		Body:     env.Text,
		HTMLBody: env.HTML,
		From:     env.GetHeader("From"),
	}
	if m.ID == "" {
		m.ID = "file:" + uniqueName(filepath.Base(path))
	}
	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		m.ReceivedAt = date.UTC()
	} else if info, err := os.Stat(path); err == nil {
		m.ReceivedAt = info.ModTime().UTC()
	}
	return m, nil
}

// MarkRead moves a message to cur/ and sets the seen flag.
func (s *MaildirSource) MarkRead(ctx context.Context, id string) error {
	return s.setSeen(id, true)
}

// MarkUnread clears the seen flag.
func (s *MaildirSource) MarkUnread(ctx context.Context, id string) error {
	return s.setSeen(id, false)
}

func (s *MaildirSource) setSeen(id string, seen bool) error {
	path, err := s.find(id)
	if err != nil {
		return err
	}
	name := withFlag(filepath.Base(path), 'S', seen)
	dest := filepath.Join(filepath.Dir(filepath.Dir(path)), "cur", name)
	if dest == path {
		return nil
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to update flags on %s: %w", id, err)
	}
	s.paths[id] = dest
	return nil
}

// Move moves a message into another Maildir++ folder, keeping its flags.
func (s *MaildirSource) Move(ctx context.Context, id, folder string) error {
	path, err := s.find(id)
	if err != nil {
		return err
	}
	destDir := s.dir(folder)
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(destDir, sub), 0700); err != nil {
			return fmt.Errorf("failed to create folder '%s': %w", folder, err)
		}
	}
	sub := filepath.Base(filepath.Dir(path))
	dest := filepath.Join(destDir, sub, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to move email to '%s': %w", folder, err)
	}
	s.paths[id] = dest
	return nil
}

// find locates a message file, scanning the tree when the id was not
// seen by FetchUnread in this process.
func (s *MaildirSource) find(id string) (string, error) {
	if path, ok := s.paths[id]; ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	var found string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return err
		}
		if parent := filepath.Base(filepath.Dir(path)); parent != "cur" && parent != "new" {
			return nil
		}
		m, perr := ReadMessageFile(path)
		if perr == nil && m.ID == id {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan maildir %s: %w", s.root, err)
	}
	if found == "" {
		return "", fmt.Errorf("message %s not found in %s", id, s.root)
	}
	s.paths[id] = found
	return found, nil
}

// Maildir file names carry flags after ":2,", sorted in ASCII order.
func uniqueName(name string) string {
	if i := strings.Index(name, ":2,"); i >= 0 {
		return name[:i]
	}
	return name
}

func hasFlag(name string, flag rune) bool {
	i := strings.Index(name, ":2,")
	return i >= 0 && strings.ContainsRune(name[i+3:], flag)
}

func withFlag(name string, flag rune, on bool) string {
	base, flags := uniqueName(name), ""
	if i := strings.Index(name, ":2,"); i >= 0 {
		flags = name[i+3:]
	}
	set := make(map[rune]bool)
	for _, r := range flags {
		set[r] = true
	}
	set[flag] = on

	var out []rune
	for r, ok := range set {
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return base + ":2," + string(out)
}
