package inbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/relist-ops/relist/internal/config"
)

// IMAPSource reads change requests from an IMAP folder and applies
// read/unread/move operations after the operator commits.
type IMAPSource struct {
	config   config.InboxConfig
	client   *client.Client
	selected string
	uids     map[string]uint32 // message id -> UID in the selected folder
}

// NewIMAPSource creates an IMAP source; it connects lazily.
func NewIMAPSource(cfg config.InboxConfig) *IMAPSource {
	return &IMAPSource{
		config: cfg,
		uids:   make(map[string]uint32),
	}
}

// Connect establishes IMAP connection
func (s *IMAPSource) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server, s.config.Port)

	log.Printf("Connecting to IMAP server %s...", addr)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(s.config.Email, s.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	s.client = c
	log.Printf("Logged in as %s", s.config.Email)
	return nil
}

// Close logs out if connected.
func (s *IMAPSource) Close() error {
	if s.client != nil {
		err := s.client.Logout()
		s.client = nil
		return err
	}
	return nil
}

func (s *IMAPSource) ensure(ctx context.Context, folder string) error {
	if s.client == nil {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	if folder == "" {
		folder = s.config.Folder
	}
	if s.selected == folder {
		return nil
	}
	if _, err := s.client.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select mailbox %s: %w", folder, err)
	}
	s.selected = folder
	return nil
}

// FetchUnread returns every unseen message in folder, oldest first.
// Bodies are fetched with PEEK so fetching never marks anything read.
func (s *IMAPSource) FetchUnread(ctx context.Context, folder string) ([]Message, error) {
	if err := s.ensure(ctx, folder); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	log.Printf("Found %d unread emails in %s", len(uids), s.selected)

	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var out []Message
	for msg := range messages {
		m, err := parseMessage(msg, section)
		if err != nil {
			log.Printf("Warning: failed to parse message: %v", err)
			continue
		}
		if m != nil {
			s.uids[m.ID] = m.UID
			out = append(out, *m)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// parseMessage converts an IMAP message to a Message
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	m := &Message{
		UID:        msg.Uid,
		ID:         msg.Envelope.MessageId,
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.InternalDate.UTC(),
		Unread:     true,
	}
	if m.ID == "" {
		m.ID = "uid:" + strconv.FormatUint(uint64(msg.Uid), 10)
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = msg.Envelope.Date.UTC()
	}
	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			m.Unread = false
		}
	}
	if len(msg.Envelope.From) > 0 {
		m.From = msg.Envelope.From[0].Address()
	}

	r := msg.GetBody(section)
	if r == nil {
		return m, nil
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return m, nil // Return without body on parse error
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(p.Body)

			if strings.HasPrefix(ct, "text/plain") && m.Body == "" {
				m.Body = string(body)
			} else if strings.HasPrefix(ct, "text/html") && m.HTMLBody == "" {
				m.HTMLBody = string(body)
			}
		}
	}

	return m, nil
}

// lookupUID resolves a message id to a UID in the selected folder.
func (s *IMAPSource) lookupUID(id string) (uint32, error) {
	if uid, ok := s.uids[id]; ok {
		return uid, nil
	}
	if rest, ok := strings.CutPrefix(id, "uid:"); ok {
		uid, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid message id %q", id)
		}
		return uint32(uid), nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header = textproto.MIMEHeader{"Message-Id": {id}}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for %s: %w", id, err)
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("message %s not found in %s", id, s.selected)
	}
	s.uids[id] = uids[0]
	return uids[0], nil
}

// MarkRead adds \Seen to a message.
func (s *IMAPSource) MarkRead(ctx context.Context, id string) error {
	return s.storeSeen(ctx, id, imap.AddFlags)
}

// MarkUnread removes \Seen so the next pass offers the message again.
func (s *IMAPSource) MarkUnread(ctx context.Context, id string) error {
	return s.storeSeen(ctx, id, imap.RemoveFlags)
}

func (s *IMAPSource) storeSeen(ctx context.Context, id string, op imap.FlagsOp) error {
	if err := s.ensure(ctx, s.selected); err != nil {
		return err
	}
	uid, err := s.lookupUID(id)
	if err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(op, true)
	flags := []interface{}{imap.SeenFlag}
	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to update flags on %s: %w", id, err)
	}
	return nil
}

// Move moves a single message to folder
func (s *IMAPSource) Move(ctx context.Context, id, folder string) error {
	if err := s.ensure(ctx, s.selected); err != nil {
		return err
	}
	uid, err := s.lookupUID(id)
	if err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	// Try MOVE first (RFC 6851) - this is most efficient
	if err := s.client.UidMove(seqSet, folder); err != nil {
		log.Printf("MOVE not supported, falling back to COPY+DELETE: %v", err)

		if err := s.client.UidCopy(seqSet, folder); err != nil {
			return fmt.Errorf("failed to copy email to '%s': %w", folder, err)
		}

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.DeletedFlag}
		if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
			return fmt.Errorf("failed to mark email as deleted: %w", err)
		}

		if err := s.client.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge deleted email: %w", err)
		}
	}

	delete(s.uids, id)
	return nil
}
