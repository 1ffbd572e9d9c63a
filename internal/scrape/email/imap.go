package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Message is the raw form of one fetched email.
type Message struct {
	UID     imap.UID
	From    string
	Subject string
	Date    time.Time

	// Raw is the full RFC822 message, fetched with BODY.PEEK[] so it is
	// not marked \Seen.
	Raw []byte
}

// mailbox is the slice of an IMAP session the adapter uses.
type mailbox interface {
	FetchUnseen(ctx context.Context, max int, since time.Time) ([]Message, error)
	MarkSeen(uids []imap.UID) error
	Close()
}

type Server struct {
	Host     string
	Port     int
	Username string
	Mailbox  string
}

func (s Server) Addr() string {
	port := s.Port
	if port == 0 {
		port = 993
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

type imapSession struct {
	c   *imapclient.Client
	log *slog.Logger
}

// dialIMAP connects over TLS, logs in and selects the mailbox.
func dialIMAP(ctx context.Context, srv Server, password string, log *slog.Logger) (mailbox, error) {
	if srv.Host == "" {
		return nil, errors.New("imap host is required")
	}
	if srv.Username == "" || password == "" {
		return nil, errors.New("imap username/password is required")
	}

	c, err := imapclient.DialTLS(srv.Addr(), &imapclient.Options{
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: srv.Host},
	})
	if err != nil {
		return nil, fmt.Errorf("imap dial tls: %w", err)
	}

	// Closing the client unblocks any pending command on cancel.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })

	if err := c.Login(srv.Username, password).Wait(); err != nil {
		stop()
		_ = c.Close()
		return nil, &LoginError{Err: err}
	}

	mb := srv.Mailbox
	if mb == "" {
		mb = "INBOX"
	}
	if _, err := c.Select(mb, &imap.SelectOptions{ReadOnly: false}).Wait(); err != nil {
		stop()
		_ = c.Close()
		return nil, fmt.Errorf("imap select %s: %w", mb, err)
	}
	return &imapSession{c: c, log: log}, nil
}

// LoginError marks an authentication failure.
type LoginError struct{ Err error }

func (e *LoginError) Error() string { return "imap login: " + e.Err.Error() }
func (e *LoginError) Unwrap() error { return e.Err }

// FetchUnseen returns up to max unseen messages received since, newest first.
func (s *imapSession) FetchUnseen(ctx context.Context, max int, since time.Time) ([]Message, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   since,
	}
	searchData, err := s.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap uid search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	for i, j := 0, len(uids)-1; i < j; i, j = i+1, j-1 {
		uids[i], uids[j] = uids[j], uids[i]
	}
	if max > 0 && len(uids) > max {
		uids = uids[:max]
	}

	bodyAll := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierNone, Peek: true}
	fetchCmd := s.c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodyAll},
	})
	defer func() { _ = fetchCmd.Close() }()

	out := make([]Message, 0, len(uids))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil {
			return nil, fmt.Errorf("imap fetch collect: %w", err)
		}

		m := Message{UID: buf.UID, Date: buf.InternalDate}
		if buf.Envelope != nil {
			m.Subject = buf.Envelope.Subject
			if !buf.Envelope.Date.IsZero() {
				m.Date = buf.Envelope.Date
			}
			if len(buf.Envelope.From) > 0 {
				a := buf.Envelope.From[0]
				m.From = a.Name
				if m.From == "" {
					m.From = a.Addr()
				}
			}
		}
		if b := buf.FindBodySection(bodyAll); b != nil {
			m.Raw = append([]byte(nil), b...)
		}
		out = append(out, m)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("imap fetch close: %w", err)
	}
	return out, nil
}

func (s *imapSession) MarkSeen(uids []imap.UID) error {
	if len(uids) == 0 {
		return nil
	}
	cmd := s.c.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("imap store add seen: %w", err)
	}
	return nil
}

func (s *imapSession) Close() {
	if err := s.c.Logout().Wait(); err != nil {
		s.log.Debug("imap logout", "component", "email", "err", err)
	}
	_ = s.c.Close()
}
