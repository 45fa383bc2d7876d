// Command chat is a terminal client for two-party conversations.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Vasu1712/scenyx-chat/internal/auth"
	"github.com/Vasu1712/scenyx-chat/internal/config"
	"github.com/Vasu1712/scenyx-chat/internal/conn"
	"github.com/Vasu1712/scenyx-chat/internal/conn/wsdial"
	"github.com/Vasu1712/scenyx-chat/internal/directory"
	"github.com/Vasu1712/scenyx-chat/internal/dispatch"
	"github.com/Vasu1712/scenyx-chat/internal/eventloop"
	"github.com/Vasu1712/scenyx-chat/internal/history"
	"github.com/Vasu1712/scenyx-chat/internal/logging"
	"github.com/Vasu1712/scenyx-chat/internal/reconcile"
	"github.com/Vasu1712/scenyx-chat/internal/session"
)

type options struct {
	configPath string
	username   string
	password   string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Realtime two-party chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&opts.username, "user", "u", os.Getenv("CHAT_USER"), "username")
	root.PersistentFlags().StringVar(&opts.password, "password", "", "password (defaults to $CHAT_PASSWORD)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		&cobra.Command{
			Use:   "contacts",
			Short: "List the people you can talk to",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runContacts(cmd.Context(), opts, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "talk <peer>",
			Short: "Open a conversation and send each input line",
			Long: "Open a conversation with peer. Every line read from stdin is sent.\n" +
				"Commands: /file <path> [caption], /reload, /quit.",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTalk(cmd.Context(), opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
			},
		},
	)
	return root
}

type client struct {
	cfg config.Client
	api *auth.Client
	dir *directory.Directory
	log zerolog.Logger
}

func login(ctx context.Context, opts *options) (*client, error) {
	cfg, err := config.LoadClient(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	log := logging.New(cfg.LogLevel, nil)

	password := opts.password
	if password == "" {
		password = os.Getenv("CHAT_PASSWORD")
	}
	if opts.username == "" || password == "" {
		return nil, errors.New("username and password are required (--user, $CHAT_PASSWORD)")
	}

	api, err := auth.New(cfg.APIBaseURL, nil, &http.Client{Timeout: 30 * time.Second}, log)
	if err != nil {
		return nil, err
	}
	if err := api.Login(ctx, opts.username, password); err != nil {
		return nil, err
	}
	dir, err := directory.Fetch(ctx, api)
	if err != nil {
		return nil, err
	}
	return &client{cfg: cfg, api: api, dir: dir, log: log}, nil
}

func runContacts(ctx context.Context, opts *options, out io.Writer) error {
	c, err := login(ctx, opts)
	if err != nil {
		return err
	}
	for _, contact := range c.dir.Contacts() {
		fmt.Fprintf(out, "%d\t%s\n", contact.ID, contact.Name)
	}
	return nil
}

func runTalk(ctx context.Context, opts *options, peer string, in io.Reader, out io.Writer) error {
	c, err := login(ctx, opts)
	if err != nil {
		return err
	}
	if _, ok := c.dir.Contact(peer); !ok {
		return fmt.Errorf("%q is not one of your contacts", peer)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loop := eventloop.New(256)
	go loop.Run(ctx)

	mgr := conn.NewManager(conn.Config{
		Host:   c.cfg.WSHost,
		Secure: c.cfg.Secure,
		Policy: conn.Policy{MaxAttempts: c.cfg.MaxReconnect, BackoffStep: c.cfg.ReconnectStep.Std()},
	}, wsdial.New(loop, c.api.HandshakeHeader, c.log), loop, c.log)
	loader, err := history.NewLoader(c.api, c.cfg.MediaBaseURL, c.log)
	if err != nil {
		return err
	}
	rec := reconcile.New(c.log)
	rec.Tolerance = c.cfg.DedupTolerance.Std()
	disp := dispatch.New(mgr, c.api, rec, loop, c.log)

	p := newPrinter(out, c.dir.Self().Username)
	var sess *session.Session
	err = loop.Call(func() {
		sess = session.New(session.Deps{
			Exec:       loop,
			Directory:  c.dir,
			Manager:    mgr,
			History:    loader,
			Reconciler: rec,
			Dispatcher: disp,
		}, c.log)
		sess.OnMessages(p.messages)
		sess.OnStatus(p.status)
		sess.OnError(p.err)
		_ = sess.Select(peer)
	})
	if err != nil {
		return err
	}
	defer func() { _ = loop.Call(sess.Close) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(loop, sess, line)
			if err != nil {
				loop.Post(func() { p.err(err) })
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(loop *eventloop.Loop, sess *session.Session, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/reload":
		return false, loop.Call(sess.Reload)
	case strings.HasPrefix(line, "/file "):
		up, err := readUpload(strings.TrimSpace(strings.TrimPrefix(line, "/file ")))
		if err != nil {
			return false, err
		}
		var sendErr error
		if err := loop.Call(func() { sendErr = sess.SendFile(up) }); err != nil {
			return false, err
		}
		return false, sendErr
	}
	var sendErr error
	if err := loop.Call(func() { sendErr = sess.Send(line) }); err != nil {
		return false, err
	}
	return false, sendErr
}

// readUpload parses "<path> [caption]" and reads the file.
func readUpload(arg string) (dispatch.Upload, error) {
	path, caption, _ := strings.Cut(arg, " ")
	info, err := os.Stat(path)
	if err != nil {
		return dispatch.Upload{}, err
	}
	if info.Size() > dispatch.MaxFileSize {
		return dispatch.Upload{}, fmt.Errorf("%s is %s, the limit is %s", filepath.Base(path),
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(dispatch.MaxFileSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return dispatch.Upload{}, err
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	mediaType, _, _ = strings.Cut(mediaType, ";")
	return dispatch.Upload{
		Name:      filepath.Base(path),
		MediaType: mediaType,
		Data:      data,
		Caption:   strings.TrimSpace(caption),
	}, nil
}
