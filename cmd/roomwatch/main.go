// Command roomwatch follows one room of a roomcast server and prints its
// messages and presence changes as they arrive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"roomcast/internal/logging"
	"roomcast/pkg/client"
	"roomcast/pkg/types"
)

type options struct {
	server      string
	roomID      int64
	userID      string
	transport   string
	history     int
	baseDelay   time.Duration
	maxAttempts int
	logLevel    string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("roomwatch", flag.ContinueOnError)
	fs.StringVar(&opts.server, "server", "http://localhost:8080", "roomcast base URL")
	fs.Int64Var(&opts.roomID, "room", types.PublicRoomID, "room to follow")
	fs.StringVar(&opts.userID, "user", "", "user id to subscribe as (required)")
	fs.StringVar(&opts.transport, "transport", "sse", "sse or ws")
	fs.IntVar(&opts.history, "history", client.DefaultHistoryLimit, "messages to load on entry")
	fs.DurationVar(&opts.baseDelay, "retry-delay", client.DefaultBaseDelay, "first reconnect delay")
	fs.IntVar(&opts.maxAttempts, "retries", client.DefaultMaxAttempts, "reconnect attempts before giving up")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if !types.IsValidUserID(opts.userID) {
		return opts, types.ErrInvalidUserID
	}
	if opts.roomID < 0 {
		return opts, types.ErrInvalidRoomID
	}
	if opts.transport != "sse" && opts.transport != "ws" {
		return opts, fmt.Errorf("unknown transport %q", opts.transport)
	}
	if !logging.ValidLevel(opts.logLevel) {
		return opts, fmt.Errorf("unknown log level %q", opts.logLevel)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "roomwatch:", err)
		os.Exit(2)
	}

	logging.Init(logging.Config{Level: opts.logLevel, Format: "console", Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, opts, os.Stdout); err != nil {
		logging.Error().Err(err).Msg("roomwatch stopped")
		os.Exit(1)
	}
}

// watch prints the room until ctx is done or reconnects are exhausted.
func watch(ctx context.Context, opts options, out io.Writer) error {
	var dialer client.Dialer = &client.HTTPDialer{BaseURL: opts.server}
	if opts.transport == "ws" {
		dialer = &client.WSDialer{BaseURL: opts.server}
	}

	var outMu sync.Mutex
	printf := func(format string, args ...interface{}) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	logger := logging.Logger()
	breaker := client.DefaultBreakerConfig()
	breaker.Logger = &logger

	exhausted := make(chan int, 1)
	session, err := client.NewSession(client.SessionOptions{
		Dialer:       dialer,
		History:      client.NewBreakerFetcher(&client.HTTPHistoryFetcher{BaseURL: opts.server}, breaker),
		HistoryLimit: opts.history,
		Logger:       &logger,
		BaseDelay:    opts.baseDelay,
		MaxAttempts:  opts.maxAttempts,
		OnMessages: func(msgs []*types.Message) {
			for _, m := range msgs {
				printf("%s\n", formatMessage(m))
			}
		},
		OnStatus: func(s types.UserStatusData) {
			printf("* %s is %s\n", s.UserID, s.Status)
		},
		OnStateChange: func(s client.State) {
			logging.Debug().Str("state", s.String()).Msg("Connection state")
		},
		OnExhausted: func(attempts int) {
			exhausted <- attempts
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Enter(ctx, opts.roomID, opts.userID); err != nil {
		logging.Warn().Err(err).Msg("Continuing without history")
	}

	select {
	case <-ctx.Done():
		return nil
	case attempts := <-exhausted:
		return fmt.Errorf("gave up after %d reconnect attempts", attempts)
	}
}

func formatMessage(m *types.Message) string {
	ts := m.CreatedAt.Local().Format("15:04:05")
	switch m.MessageType {
	case types.MessageKindImage, types.MessageKindFile:
		name := ""
		if m.FileName != nil {
			name = *m.FileName
		}
		url := ""
		if m.FileURL != nil {
			url = *m.FileURL
		}
		return fmt.Sprintf("[%s] #%d <%s> [%s] %s %s", ts, m.ID, m.UserID, m.MessageType, name, url)
	default:
		return fmt.Sprintf("[%s] #%d <%s> %s", ts, m.ID, m.UserID, m.Content)
	}
}
