package receiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "user@example.com"
	testPass = "secret"
)

// startServer runs an in-memory IMAP server holding msgs in INBOX and
// returns its host and port.
func startServer(t *testing.T, msgs ...string) (string, int) {
	t.Helper()
	return startTracedServer(t, nil, msgs...)
}

// startTracedServer is startServer with the raw protocol traffic copied to trace.
func startTracedServer(t *testing.T, trace io.Writer, msgs ...string) (string, int) {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	require.NoError(t, user.Create("INBOX", nil))
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
		DebugWriter:  trace,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	addr := ln.Addr().(*net.TCPAddr)

	client, err := imapclient.DialInsecure(addr.String(), nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Login(testUser, testPass).Wait())

	for _, msg := range msgs {
		raw := []byte(msg)
		cmd := client.Append("INBOX", int64(len(raw)), &imap.AppendOptions{Time: time.Now()})
		_, err := cmd.Write(raw)
		require.NoError(t, err)
		require.NoError(t, cmd.Close())
		_, err = cmd.Wait()
		require.NoError(t, err)
	}
	require.NoError(t, client.Logout().Wait())

	return "127.0.0.1", addr.Port
}

// traceBuffer collects server traffic written from connection goroutines.
type traceBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *traceBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *traceBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *traceBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// expungeUID removes one message from INBOX over a separate connection.
func expungeUID(t *testing.T, host string, port int, uid imap.UID) {
	t.Helper()

	client, err := imapclient.DialInsecure(net.JoinHostPort(host, fmt.Sprint(port)), nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Login(testUser, testPass).Wait())
	_, err = client.Select("INBOX", nil).Wait()
	require.NoError(t, err)

	store := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}
	require.NoError(t, client.Store(imap.UIDSetNum(uid), store, nil).Close())
	require.NoError(t, client.Expunge().Close())
	require.NoError(t, client.Logout().Wait())
}

func testMessage(from, subject, body string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		from, testUser, subject, time.Now().Format(time.RFC1123Z), body)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIMAPReceiver_FetchAll(t *testing.T) {
	host, port := startServer(t,
		testMessage("shop@example.com", "Your code", "<label>482913</label>"),
		testMessage("news@example.com", "Weekly", "<p>nothing</p>"),
	)

	recv := NewIMAP(host, port, testUser, testPass, false, discardLogger())

	var got []Email
	matched, err := recv.Fetch(context.Background(), Criteria{Window: 24 * time.Hour}, func(e Email) {
		got = append(got, e)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, matched)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.NoError(t, e.Err)
		assert.NotEmpty(t, e.ID)
	}
	assert.Contains(t, string(got[0].Content), "482913")
	assert.Contains(t, string(got[1].Content), "Weekly")
}

func TestIMAPReceiver_BatchesKeepServerOrder(t *testing.T) {
	var msgs []string
	for i := 0; i < 23; i++ {
		msgs = append(msgs, testMessage("shop@example.com", fmt.Sprintf("msg-%02d", i), "<b>1234</b>"))
	}
	host, port := startServer(t, msgs...)

	recv := NewIMAP(host, port, testUser, testPass, false, discardLogger())

	var got []Email
	matched, err := recv.Fetch(context.Background(), Criteria{Window: 24 * time.Hour}, func(e Email) {
		got = append(got, e)
	})
	require.NoError(t, err)

	assert.Equal(t, 23, matched)
	require.Len(t, got, 23)
	for i, e := range got {
		require.NoError(t, e.Err)
		assert.Contains(t, string(e.Content), fmt.Sprintf("msg-%02d", i))
	}
}

func TestIMAPReceiver_NoMatchingSender(t *testing.T) {
	host, port := startServer(t,
		testMessage("shop@example.com", "Your code", "<label>482913</label>"),
	)

	recv := NewIMAP(host, port, testUser, testPass, false, discardLogger())

	called := false
	matched, err := recv.Fetch(context.Background(), Criteria{Window: time.Hour, Sender: "a@b.com"}, func(Email) {
		called = true
	})
	require.NoError(t, err)
	assert.Zero(t, matched)
	assert.False(t, called)
}

func TestIMAPReceiver_LoginFailure(t *testing.T) {
	host, port := startServer(t)

	recv := NewIMAP(host, port, testUser, "wrong", false, discardLogger())

	_, err := recv.Fetch(context.Background(), Criteria{Window: time.Hour}, func(Email) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap login")
}

func TestIMAPReceiver_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	recv := NewIMAP("127.0.0.1", port, testUser, testPass, false, discardLogger())

	_, err = recv.Fetch(context.Background(), Criteria{Window: time.Hour}, func(Email) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap connect")
}

func TestIMAPReceiver_MessageGoneBeforeFetchIsReportedAndRunContinues(t *testing.T) {
	var msgs []string
	for i := 0; i < 12; i++ {
		msgs = append(msgs, testMessage("shop@example.com", fmt.Sprintf("msg-%02d", i), "<b>1234</b>"))
	}
	trace := &traceBuffer{}
	host, port := startTracedServer(t, trace, msgs...)
	trace.Reset()

	recv := NewIMAP(host, port, testUser, testPass, false, discardLogger())

	// UID 11 opens the second batch; drop it while the first batch is handled.
	var got []Email
	matched, err := recv.Fetch(context.Background(), Criteria{Window: 24 * time.Hour}, func(e Email) {
		if len(got) == 0 {
			expungeUID(t, host, port, 11)
		}
		got = append(got, e)
	})
	require.NoError(t, err)

	assert.Equal(t, 12, matched)
	require.Len(t, got, 12)

	seen := make(map[string]int)
	for i, e := range got {
		seen[e.ID]++
		if e.ID == "11" {
			require.Error(t, e.Err)
			assert.Contains(t, e.Err.Error(), "imap fetch uid 11")
			assert.Empty(t, e.Content)
			continue
		}
		require.NoError(t, e.Err, "uid %s", e.ID)
		assert.Contains(t, string(e.Content), fmt.Sprintf("msg-%02d", i))
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "uid %s delivered more than once", id)
	}

	assert.Contains(t, trace.String(), " CLOSE\r\n")
	assert.Contains(t, trace.String(), " LOGOUT\r\n")
}

func TestIMAPReceiver_CancelledRunStillClosesAndLogsOut(t *testing.T) {
	var msgs []string
	for i := 0; i < 15; i++ {
		msgs = append(msgs, testMessage("shop@example.com", fmt.Sprintf("msg-%02d", i), "<b>1234</b>"))
	}
	trace := &traceBuffer{}
	host, port := startTracedServer(t, trace, msgs...)
	trace.Reset()

	recv := NewIMAP(host, port, testUser, testPass, false, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := 0
	done := make(chan struct{})
	var matched int
	var err error
	go func() {
		defer close(done)
		matched, err = recv.Fetch(ctx, Criteria{Window: 24 * time.Hour}, func(Email) {
			handled++
			cancel()
		})
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Fetch did not return after cancellation")
	}

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 15, matched)
	assert.Equal(t, BatchSize, handled)

	traffic := trace.String()
	assert.Contains(t, traffic, " CLOSE\r\n")
	assert.Contains(t, traffic, " LOGOUT\r\n")
	assert.Equal(t, 1, strings.Count(traffic, " UID FETCH "))
}
