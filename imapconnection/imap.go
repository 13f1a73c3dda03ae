// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"fmt"
	"io/ioutil"
	"net"
	"time"

	"github.com/mailwatch/go-imap-ingest/domain"
	"github.com/mailwatch/go-imap-ingest/log"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// networkTimeout bounds dialing and every subsequent command so a stalled
// server surfaces as an error, never a silent hang.
const networkTimeout = 30 * time.Second

// ImapConnection is one live connection to one mailbox folder. It implements
// domain.MailSession and must be used from one goroutine at a time; IMAP is
// not safely pipelinable by this design.
type ImapConnection struct {
	connection *client.Client
	expunger   expunger

	server, user   string
	selectedFolder string
	uidValidity    uint32

	closed bool

	l logrus.FieldLogger
}

// Connect dials, authenticates and selects the configured folder. The caller
// must guarantee Close runs on every exit path.
func Connect(cfg domain.MailboxConfig) (*ImapConnection, error) {
	dialer := &net.Dialer{Timeout: networkTimeout}

	var imapClient *client.Client
	var err error
	if cfg.TLS {
		imapClient, err = client.DialWithDialerTLS(dialer, cfg.Host, nil)
	} else {
		imapClient, err = client.DialWithDialer(dialer, cfg.Host)
	}
	if err != nil {
		return nil, fmt.Errorf("could not dial to imap: %w", err)
	}
	imapClient.Timeout = networkTimeout

	if cfg.StartTLS {
		err = imapClient.StartTLS(nil)
		if err != nil {
			_ = imapClient.Logout()
			return nil, fmt.Errorf("could not upgrade connection via starttls: %w", err)
		}
	}

	err = imapClient.Login(cfg.User, cfg.Password)
	if err != nil {
		_ = imapClient.Logout()
		return nil, fmt.Errorf("could not login to imap: %w", err)
	}

	uidPlusClient := uidplus.NewClient(imapClient)
	uidPlusSupported, err := uidPlusClient.SupportUidPlus()
	if err != nil {
		_ = imapClient.Logout()
		return nil, fmt.Errorf("could not check for UIDPLUS support: %w", err)
	}

	conn := &ImapConnection{
		connection: imapClient,
		server:     cfg.Host,
		user:       cfg.User,
		l:          log.Logger(log.LOG_IMAP).WithFields(logrus.Fields{"server": cfg.Host, "mailbox": cfg.Name}),
	}

	conn.l.Debug("Logged in to server")

	if uidPlusSupported {
		conn.l.Debug("UIDPLUS supported on server, expunging by UID")
		conn.expunger = &uidPlusExpunger{
			uidplusClient: uidPlusClient,
		}
	} else {
		conn.l.Info("UIDPLUS not supported on server, falling back to plain expunge")
		conn.expunger = &compatibilityExpunger{
			imapConn: imapClient,
		}
	}

	folder := cfg.Folder
	if len(folder) == 0 {
		folder = "INBOX"
	}

	m, err := imapClient.Select(folder, false)
	if err != nil {
		_ = imapClient.Logout()
		return nil, fmt.Errorf("could not select folder %s: %w", folder, err)
	}

	conn.selectedFolder = folder
	conn.uidValidity = m.UidValidity
	return conn, nil
}

// UidValidity as reported by the server for the selected folder. UIDs are
// only comparable across cycles while this value is unchanged.
func (ic *ImapConnection) UidValidity() uint32 {
	return ic.uidValidity
}

func (ic *ImapConnection) ListUids() ([]uint32, error) {
	// Get all UIDs in folder (empty search criteria)
	criteria := imap.NewSearchCriteria()
	ids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not list folder: %w", err)
	}

	return ids, nil
}

func (ic *ImapConnection) SearchUnseen() ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not search for unseen messages: %w", err)
	}

	return ids, nil
}

func (ic *ImapConnection) FetchSizes(uids []uint32) (map[uint32]uint32, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	fetchItems := []imap.FetchItem{imap.FetchRFC822Size, imap.FetchUid}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	sizes := map[uint32]uint32{}
	for msg := range messages {
		sizes[msg.Uid] = msg.Size
	}

	err := <-done
	if err != nil {
		return nil, fmt.Errorf("could not fetch message sizes: %w", err)
	}

	return sizes, nil
}

func (ic *ImapConnection) FetchMessage(uid uint32, peek bool) (*domain.RawMessage, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	section := &imap.BodySectionName{
		Peek: peek,
	}
	fetchItems := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	var rawBody []byte
	var readErr error
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}

		rawBody, readErr = ioutil.ReadAll(r)
	}

	err := <-done
	if err != nil {
		return nil, fmt.Errorf("could not fetch message %d: %w", uid, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("could not read message body of %d: %w", uid, readErr)
	}

	if len(rawBody) == 0 {
		// Likely deleted concurrently by another client
		return nil, fmt.Errorf("no content returned for message %d, message vanished", uid)
	}

	return &domain.RawMessage{Uid: uid, Body: rawBody}, nil
}

func (ic *ImapConnection) EnsureFolder(name string) error {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.List("", name, mailboxes)
	}()

	exists := false
	for range mailboxes {
		exists = true
	}

	err := <-done
	if err != nil {
		return fmt.Errorf("could not list folder %s: %w", name, err)
	}

	if exists {
		ic.l.WithField("folder", name).Debug("Folder exists")
		return nil
	}

	ic.l.WithField("folder", name).Info("Creating folder")
	err = ic.connection.Create(name)
	if err != nil {
		return fmt.Errorf("could not create folder %s: %w", name, err)
	}

	return nil
}

func (ic *ImapConnection) Copy(uid uint32, folder string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)
	err := ic.connection.UidCopy(seqset, folder)
	if err != nil {
		return fmt.Errorf("could not copy message %d to %s: %w", uid, folder, err)
	}

	return nil
}

func (ic *ImapConnection) MarkSeen(uids []uint32) error {
	err := ic.addFlags(uids, imap.SeenFlag)
	if err != nil {
		return fmt.Errorf("could not set seen flag: %w", err)
	}

	return nil
}

func (ic *ImapConnection) FlagDeleted(uids []uint32) error {
	err := ic.addFlags(uids, imap.DeletedFlag)
	if err != nil {
		return fmt.Errorf("could not set deleted flag: %w", err)
	}

	return nil
}

func (ic *ImapConnection) addFlags(uids []uint32, flags ...string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	flagItems := make([]interface{}, len(flags))
	for i, f := range flags {
		flagItems[i] = f
	}

	return ic.connection.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flagItems, nil)
}

func (ic *ImapConnection) ExpungeReady() (error, error) {
	return ic.expunger.expungeReady()
}

func (ic *ImapConnection) Expunge(uids []uint32) error {
	return ic.expunger.expunge(uids)
}

func (ic *ImapConnection) Close() error {
	if ic.closed {
		return nil
	}
	ic.closed = true

	return ic.connection.Logout()
}
