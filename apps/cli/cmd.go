package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/message"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errEmptyPassword   = errors.New("password cannot be empty")
	errMessageNotFound = errors.New("message not found in the inbox")
)

type appFactory func(ctx context.Context, conf *core.Config, logger core.Logger) (*app, error)

// commandLine opens the app lazily: `version` and `--help` never touch storage.
type commandLine struct {
	conf    *core.Config
	logger  core.Logger
	factory appFactory

	out io.Writer
	a   *app
}

func newCommandLine(conf *core.Config, logger core.Logger, factory appFactory) *commandLine {
	return &commandLine{conf: conf, logger: logger, factory: factory}
}

// execute runs the command named by args (without program name), then closes the app.
func (cli *commandLine) execute(ctx context.Context, args []string, out io.Writer) error {
	cli.out = &lockedWriter{w: out}
	root := cli.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	err := root.ExecuteContext(ctx)
	if cErr := cli.close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "masomo",
		Short:         "Masomo student portal",
		Long:          "masomo keeps a signed-in session of the student portal: messages, chat invitations and payments.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		cli.versionCmd(),
		cli.loginCmd(),
		cli.logoutCmd(),
		cli.whoamiCmd(),
		cli.registerCmd(),
		cli.inboxCmd(),
		cli.readCmd(),
		cli.sendCmd(),
		cli.replyCmd(),
		cli.searchCmd(),
		cli.roomsCmd(),
		cli.joinCmd(),
		cli.payCmd(),
		cli.watchCmd(),
		cli.storageCmd(),
	)
	return root
}

func (cli *commandLine) open(ctx context.Context) (*app, error) {
	if cli.a != nil {
		return cli.a, nil
	}
	a, err := cli.factory(ctx, cli.conf, cli.logger)
	if err != nil {
		return nil, err
	}
	cli.a = a
	return a, nil
}

func (cli *commandLine) close() error {
	if cli.a == nil {
		return nil
	}
	err := cli.a.Close()
	cli.a = nil
	return err
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}

// flushAlert prints then hides the pending alert, if any.
func (cli *commandLine) flushAlert(a *app) {
	if st := a.alerts.State(); st.Visible {
		cli.printf("» %s\n", st.Text)
		a.alerts.Hide()
	}
}

// withApp runs fn against the opened app, flushing the alert raised by fn even when it fails.
func (cli *commandLine) withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := cli.open(cmd.Context())
		if err != nil {
			return err
		}
		err = fn(cmd.Context(), a, args)
		cli.flushAlert(a)
		return err
	}
}

func promptPassword(out io.Writer, prompt string) (string, error) {
	_, _ = fmt.Fprint(out, prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}

// findMessage looks msgID up in the signed-in member's inbox.
func findMessage(ctx context.Context, a *app, rawID string) (message.Message, error) {
	id, err := parseID(rawID)
	if err != nil {
		return message.Message{}, err
	}
	msgs, err := a.svc.Messages(ctx)
	if err != nil {
		return message.Message{}, err
	}
	for _, msg := range msgs {
		if msg.ID == id {
			return msg, nil
		}
	}
	return message.Message{}, errors.Wrapf(errMessageNotFound, "#%d", id)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// lockedWriter serializes writes coming from notification callbacks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
