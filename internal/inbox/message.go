package inbox

import "time"

// Message is a raw unit of work fetched from the mail store.
// It is never mutated once fetched; read/unread changes go through a Source.
type Message struct {
	ID         string // stable external id (Message-ID header, or uid:<n>)
	UID        uint32 // IMAP UID when fetched over IMAP
	Path       string // file path when read from a maildir
	Subject    string
	Body       string
	HTMLBody   string
	From       string
	ReceivedAt time.Time
	Unread     bool
}
