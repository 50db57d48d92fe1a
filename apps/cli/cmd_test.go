package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-portal/apps/mockapi/echo"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/member"
	"github.com/trezcool/masomo-portal/core/message"
	"github.com/trezcool/masomo-portal/core/portal"
	"github.com/trezcool/masomo-portal/services/gateway"
	"github.com/trezcool/masomo-portal/services/studentapi"
	"github.com/trezcool/masomo-portal/tests"
)

// Seeded by the mock API.
const (
	welcomeMsgID  = "101"
	mathRoomID    = "102"
	invitationID  = "103"
	kimEmail      = "test@example.com"
	kimPassword   = "1234"
	leeEmail      = "lee@example.com"
	leePassword   = "Le3-Secret!"
	apiPathPrefix = "/api"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	conf   *core.Config
	apiURL string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	srv, err := echoapi.NewServer(&echoapi.Options{
		DisableReqLogs: true,
		TestMode:       true,
		Secret:         []byte("test-secret"),
		Logger:         new(testutil.Logger),
	})
	require.NoError(t, err)
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Stop(context.Background())
	})

	setPassword(t, kimPassword)
	return &fixture{
		apiURL: hs.URL + apiPathPrefix,
		conf: &core.Config{
			Env:      "TEST",
			TestMode: true,
			AppName:  "Masomo",
			Build:    "test",
			API: core.APIConfig{
				BaseURL:       hs.URL + apiPathPrefix,
				ExpiryMarkers: []string{"만료", "expired"},
			},
			Push: core.PushConfig{
				Driver:         core.PushDriverSTOMP,
				URL:            "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
				ReconnectDelay: 50 * time.Millisecond,
			},
			Storage: core.StorageConfig{
				Engine:  core.StorageEngineSQLite,
				DSN:     "file:" + filepath.Join(t.TempDir(), "portal.db"),
				RootKey: "root",
			},
		},
	}
}

func setPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

// run executes args as a fresh process would: nothing but the persisted state is shared.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return f.runContext(context.Background(), t, new(safeBuffer), args...)
}

func (f *fixture) runContext(ctx context.Context, t *testing.T, out *safeBuffer, args ...string) (string, error) {
	t.Helper()
	cli := newCommandLine(f.conf, new(testutil.Logger), newApp)
	err := cli.execute(ctx, args, out)
	return out.String(), err
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	out, err := f.run(t, "login", "--email", kimEmail)
	require.NoError(t, err, out)
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    []string
}

func (f *fixture) check(t *testing.T, tests []cliTest) {
	t.Helper()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := f.run(t, tc.args...)
			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), tc.wantErrStr)
				}
			default:
				assert.NoError(t, err)
			}
			for _, want := range tc.wantOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func Test_commandLine_version(t *testing.T) {
	cli := newCommandLine(&core.Config{Build: "abc123"}, new(testutil.Logger), func(context.Context, *core.Config, core.Logger) (*app, error) {
		t.Fatal("version must not open the app")
		return nil, nil
	})
	var out safeBuffer
	require.NoError(t, cli.execute(context.Background(), []string{"version"}, &out))
	assert.Equal(t, "masomo "+version+" (build: abc123)\n", out.String())
}

func Test_commandLine_session(t *testing.T) {
	f := setup(t)

	out, err := f.run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "not signed in\n", out)

	_, err = f.run(t, "inbox")
	assert.ErrorIs(t, err, portal.ErrNotAuthenticated)

	setPassword(t, "wrong")
	_, err = f.run(t, "login", "--email", kimEmail)
	assert.True(t, portal.IsLoginError(err), "%v", err)

	setPassword(t, "")
	_, err = f.run(t, "login", "--email", kimEmail)
	assert.ErrorIs(t, err, errEmptyPassword)

	setPassword(t, kimPassword)
	out, err = f.run(t, "login", "--email", " TEST@example.com ")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Kim (#7)")
	assert.Contains(t, out, "unread messages: 1, pending invitations: 1")

	// the session, counters and cookies survive across runs
	f.check(t, []cliTest{
		{name: "whoami", args: []string{"whoami"}, wantOut: []string{"Kim <test@example.com> (#7)", "unread messages: 1, pending invitations: 1"}},
		{name: "inbox", args: []string{"inbox"}, wantOut: []string{"* #" + welcomeMsgID, "Lee: Welcome to Masomo!"}},
		{name: "inbox refresh", args: []string{"inbox", "--refresh"}, wantOut: []string{"» message list updated"}},
		{name: "read", args: []string{"read", welcomeMsgID}, wantOut: []string{"From: Lee (#9)", "Welcome to Masomo!"}},
		{name: "read again", args: []string{"read", "#" + welcomeMsgID}, wantOut: []string{"Welcome to Masomo!"}},
		{name: "unread decremented once", args: []string{"whoami"}, wantOut: []string{"unread messages: 0, pending invitations: 1"}},
		{name: "inbox after read", args: []string{"inbox"}, wantOut: []string{"  #" + welcomeMsgID}},
		{name: "unknown message", args: []string{"read", "4242"}, wantErr: errMessageNotFound},
		{name: "invalid id", args: []string{"read", "abc"}, wantErrStr: `invalid id "abc"`},
		{name: "logout", args: []string{"logout"}, wantOut: []string{"signed out"}},
		{name: "whoami after logout", args: []string{"whoami"}, wantOut: []string{"not signed in"}},
		{name: "inbox after logout", args: []string{"inbox"}, wantErr: portal.ErrNotAuthenticated},
	})
}

func Test_commandLine_send(t *testing.T) {
	f := setup(t)
	f.login(t)

	f.check(t, []cliTest{
		{name: "send", args: []string{"send", "--to", "9", "see", "you", "at", "5"}, wantOut: []string{"» message sent"}},
		{name: "missing recipient", args: []string{"send", "hello"}, wantErrStr: "invalid input", wantOut: []string{"» recipient and message are required"}},
		{name: "missing content", args: []string{"send", "--to", "9"}, wantErrStr: "invalid input", wantOut: []string{"» recipient and message are required"}},
		{name: "unknown recipient", args: []string{"send", "--to", "4242", "hello"}, wantErrStr: "sending message", wantOut: []string{"» failed to send the message"}},
		{name: "reply", args: []string{"reply", welcomeMsgID, "thanks!"}, wantOut: []string{"» message sent"}},
		{name: "alert shown once", args: []string{"whoami"}, wantOut: []string{"Kim"}},
	})

	out, err := f.run(t, "whoami")
	require.NoError(t, err)
	assert.NotContains(t, out, "»")

	// Lee received both messages
	client := newAPIClient(t, f.apiURL)
	_, err = client.Login(context.Background(), member.Credentials{Email: leeEmail, Password: leePassword})
	require.NoError(t, err)
	msgs, err := client.Messages(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "thanks!", msgs[0].Content)
	assert.Equal(t, "see you at 5", msgs[1].Content)
}

func Test_commandLine_chat(t *testing.T) {
	f := setup(t)
	f.login(t)

	f.check(t, []cliTest{
		{name: "rooms", args: []string{"rooms"}, wantOut: []string{"invitation #" + invitationID + "  Math study (by Lee)"}},
		{name: "join", args: []string{"join", invitationID}, wantOut: []string{"» joined the chat room", "pending invitations: 0"}},
		{name: "rooms after join", args: []string{"rooms"}, wantOut: []string{"room #" + mathRoomID + "  Math study (by Lee)"}},
		{name: "join unknown", args: []string{"join", "4242"}, wantErrStr: "joining chat room", wantOut: []string{"» failed to join the chat room"}},
		{name: "counters persisted", args: []string{"whoami"}, wantOut: []string{"pending invitations: 0"}},
	})
}

func Test_commandLine_search(t *testing.T) {
	f := setup(t)
	f.login(t)

	f.check(t, []cliTest{
		{name: "by name", args: []string{"search", "lee"}, wantOut: []string{"#9  Lee <lee@example.com>"}},
		{name: "too short", args: []string{"search", "k"}, wantOut: []string{"no members found"}},
		{name: "no args", args: []string{"search"}, wantErrStr: "requires at least 1 arg"},
	})
}

func Test_commandLine_pay(t *testing.T) {
	f := setup(t)
	f.login(t)

	f.check(t, []cliTest{
		{
			name:    "valid",
			args:    []string{"pay", "--imp-uid", "imp_1", "--merchant-uid", "42", "--amount", "1000", "--name", "Tuition"},
			wantOut: []string{"1000 (PAYMENT_COMPLETED)", "» payment completed"},
		},
		{
			name:       "invalid amount",
			args:       []string{"pay", "--imp-uid", "imp_1", "--merchant-uid", "42", "--name", "Tuition"},
			wantErrStr: "invalid input",
		},
	})
}

func Test_commandLine_register(t *testing.T) {
	f := setup(t)

	setPassword(t, "Pa55-Word!")
	f.check(t, []cliTest{
		{name: "valid", args: []string{"register", "--name", "Park", "--email", "park@example.com"}, wantOut: []string{"account created for park@example.com"}},
		{name: "duplicate", args: []string{"register", "--name", "Park", "--email", "park@example.com"}, wantErrStr: "이미 존재하는 이메일입니다."},
		{name: "missing name", args: []string{"register", "--email", "choi@example.com"}, wantErrStr: `required flag(s) "name" not set`},
	})

	out, err := f.run(t, "login", "--email", "park@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Park")
}

func Test_commandLine_storage(t *testing.T) {
	f := setup(t)
	f.login(t)

	f.check(t, []cliTest{
		{name: "version", args: []string{"storage", "version"}, wantOut: []string{"engine: sqlite, schema version: 1"}},
		{name: "reset", args: []string{"storage", "reset"}, wantOut: []string{"local state reset"}},
		{name: "signed out", args: []string{"whoami"}, wantOut: []string{"not signed in"}},
	})

	f.conf.Storage.Engine = core.StorageEngineMemory
	f.check(t, []cliTest{
		{name: "memory engine", args: []string{"storage", "version"}, wantOut: []string{"engine: memory (no schema)"}},
	})
}

func Test_commandLine_watch(t *testing.T) {
	f := setup(t)
	f.login(t)

	_, err := f.run(t, "logout")
	require.NoError(t, err)
	_, err = f.run(t, "watch")
	assert.ErrorIs(t, err, portal.ErrNotAuthenticated)
	f.login(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := new(safeBuffer)
	errs := make(chan error, 1)
	go func() {
		_, err := f.runContext(ctx, t, out, "watch")
		errs <- err
	}()

	lee := newAPIClient(t, f.apiURL)
	_, err = lee.Login(ctx, member.Credentials{Email: leeEmail, Password: leePassword})
	require.NoError(t, err)

	// the subscription is registered asynchronously: send until a notification is printed
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			if strings.Contains(out.String(), "» new message arrived") {
				break loop
			}
			require.NoError(t, lee.SendMessage(ctx, message.Draft{ReceiverID: 7, Content: "ping"}))
		case <-deadline:
			t.Fatalf("no notification printed:\n%s", out.String())
		}
	}

	cancel()
	select {
	case err = <-errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, out.String(), "watching notifications for Kim (#7)")
	assert.Regexp(t, `unread messages: [2-9]`, out.String())

	// the pushed increments were persisted
	whoami, err := f.run(t, "whoami")
	require.NoError(t, err)
	assert.NotContains(t, whoami, "unread messages: 1,")
}

func newAPIClient(t *testing.T, baseURL string) *studentapi.Client {
	t.Helper()
	gw, err := gateway.New(gateway.Config{BaseURL: baseURL, Logger: new(testutil.Logger)})
	require.NoError(t, err)
	return studentapi.NewClient(gw)
}
