// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
)

var (
	testCredentials = domain.PasswordCredentials{Host: "imap.example.com", Port: 993, Secure: true, Username: "user", Password: "secret"}
	testClock       = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func u32(val int) uint32 {
	return uint32(val)
}

func u32a(val ...int) []uint32 {
	a := []uint32{}
	for _, v := range val {
		a = append(a, u32(v))
	}

	return a
}

func nullLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration{}, r.delays...)
}

// sequenceConnector hands out the given clients, then fails with err.
type sequenceConnector struct {
	mu      sync.Mutex
	clients []imapClient
	errs    []error
	calls   int
}

func (s *sequenceConnector) connect(ctx context.Context, credentials domain.PasswordCredentials) (imapClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.clients) && s.clients[i] != nil {
		return s.clients[i], nil
	}
	return nil, &domain.ConnectionError{Op: "dial", Err: fmt.Errorf("connection refused")}
}

func newTestHandler(connector Connector) (*ImapHandler, *recordingSleeper) {
	sleeper := &recordingSleeper{}

	h := NewImapHandler(connector, Options{SkipBodies: true})
	h.l = nullLogger()
	h.sleep = sleeper.sleep
	h.now = func() time.Time { return testClock }

	return h, sleeper
}

func fakeMessage(seq uint32) *imap.Message {
	return &imap.Message{
		SeqNum: seq,
		Uid:    seq + 100,
		Flags:  []string{imap.SeenFlag},
		Envelope: &imap.Envelope{
			Subject:   fmt.Sprintf("message %d", seq),
			MessageId: fmt.Sprintf("<%d@example.com>", seq),
			From:      []*imap.Address{{PersonalName: "Sender", MailboxName: "sender", HostName: "example.com"}},
			To:        []*imap.Address{{MailboxName: "me", HostName: "example.com"}},
		},
	}
}

// sendSeqSet emits one fake message per sequence number of seqset, stopping
// after the sequence number stopAfter when it is not 0.
func sendSeqSet(seqset *imap.SeqSet, ch chan *imap.Message, stopAfter uint32) {
	defer close(ch)
	for _, s := range seqset.Set {
		for i := s.Start; i <= s.Stop; i++ {
			ch <- fakeMessage(i)
			if stopAfter != 0 && i == stopAfter {
				return
			}
		}
	}
}
