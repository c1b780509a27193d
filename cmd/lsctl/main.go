// Command lsctl drives a lightshow server over its websocket protocol.
// It lists sessions, reads state, hosts a demo session that alternates
// colors, follows a session as a member, and closes sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/tuchoir/lightshow/client"
	"github.com/tuchoir/lightshow/lightshow/protocol"
	"github.com/tuchoir/lightshow/lightshow/service"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lsctl: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "lsctl",
		Usage: "control and observe a lightshow server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "websocket endpoint of the server",
				Value:   "ws://localhost:3000/ws",
				Sources: cli.EnvVars("LIGHTSHOW_URL"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout for connecting and for single requests",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := "warn"
			if cmd.Bool("debug") {
				level = "debug"
			}
			pkglog.Init(pkglog.Config{Level: level, Pretty: true})
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list active sessions",
				Action: withClient(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					return listSessions(ctx, c, cmd.Root().Writer)
				}),
			},
			{
				Name:      "state",
				Usage:     "print the screen color of a session",
				ArgsUsage: "<session-id>",
				Action: withClient(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					id, err := sessionArg(cmd)
					if err != nil {
						return err
					}
					state, err := c.GetSessionState(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.Root().Writer, state.ScreenColor)
					return nil
				}),
			},
			{
				Name:  "host",
				Usage: "create a session and alternate its color until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "session name", Value: "lsctl demo"},
					&cli.DurationFlag{Name: "interval", Usage: "time between color changes", Value: time.Second},
					&cli.IntFlag{Name: "count", Usage: "number of color changes, 0 for no limit"},
				},
				Action: withClient(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					return hostSession(ctx, c, cmd.Root().Writer, hostOptions{
						Name:     cmd.String("name"),
						Interval: cmd.Duration("interval"),
						Count:    int(cmd.Int("count")),
					})
				}),
			},
			{
				Name:      "watch",
				Usage:     "join a session and print every color change",
				ArgsUsage: "<session-id>",
				Action: withClient(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					id, err := sessionArg(cmd)
					if err != nil {
						return err
					}
					return watchSession(ctx, c, cmd.Root().Writer, id)
				}),
			},
			{
				Name:      "close",
				Usage:     "close a session",
				ArgsUsage: "<session-id>",
				Action: withClient(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					id, err := sessionArg(cmd)
					if err != nil {
						return err
					}
					if err := closeSession(ctx, c, id, cmd.Duration("timeout")); err != nil {
						return err
					}
					fmt.Fprintf(cmd.Root().Writer, "closed %s\n", id)
					return nil
				}),
			},
		},
	}
}

type clientAction func(ctx context.Context, cmd *cli.Command, c *client.Client) error

// withClient dials the server, discards the initial list push and runs f.
func withClient(f clientAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		dialCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		defer cancel()

		c, err := client.Dial(dialCtx, cmd.String("url"))
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := waitFor(dialCtx, c, protocol.EventSessionListUpdated); err != nil {
			return err
		}
		return f(ctx, cmd, c)
	}
}

func sessionArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", errors.New("expected exactly one session id")
	}
	return cmd.Args().First(), nil
}

// waitFor returns the next push with the given event. An error push is
// returned as an error.
func waitFor(ctx context.Context, c *client.Client, event string) (*protocol.Message, error) {
	for {
		select {
		case msg, ok := <-c.Events():
			if !ok {
				return nil, connectionLost(c)
			}
			if msg.Event == protocol.EventError && msg.Error != nil {
				return nil, msg.Error
			}
			if msg.Event == event {
				return msg, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func connectionLost(c *client.Client) error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("connection lost: %w", err)
	}
	return errors.New("connection lost")
}

func listSessions(ctx context.Context, c *client.Client, w io.Writer) error {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no active sessions")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\n", s.SessionID, s.SessionName)
	}
	return tw.Flush()
}

type hostOptions struct {
	Name     string
	Interval time.Duration
	Count    int
}

// hostSession creates a session and flips its color every interval. The
// session disappears when the connection closes.
func hostSession(ctx context.Context, c *client.Client, w io.Writer, opts hostOptions) error {
	if opts.Interval <= 0 {
		return errors.New("interval must be positive")
	}

	created, err := c.CreateSession(ctx, opts.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "hosting %q as %s\n", opts.Name, created.SessionID)

	color := created.State.ScreenColor
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for changes := 0; opts.Count == 0 || changes < opts.Count; {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return connectionLost(c)
		case msg, ok := <-c.Events():
			if !ok {
				return connectionLost(c)
			}
			if msg.Event == protocol.EventError && msg.Error != nil {
				return msg.Error
			}
		case <-ticker.C:
			color = toggle(color)
			if err := c.UpdateSessionState(ctx, created.SessionID, service.State{ScreenColor: color}); err != nil {
				return err
			}
			fmt.Fprintln(w, color)
			changes++
		}
	}
	return nil
}

func toggle(c service.ScreenColor) service.ScreenColor {
	if c == service.ScreenWhite {
		return service.ScreenBlack
	}
	return service.ScreenWhite
}

// watchSession joins a session and prints its color until the session
// closes or ctx is cancelled.
func watchSession(ctx context.Context, c *client.Client, w io.Writer, sessionID string) error {
	if err := c.JoinSession(ctx, sessionID); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.Events():
			if !ok {
				return connectionLost(c)
			}
			switch msg.Event {
			case protocol.EventSessionStateUpdated:
				if msg.SessionID == sessionID && msg.State != nil {
					fmt.Fprintf(w, "%s %s\n", time.Now().Format(time.TimeOnly), msg.State.ScreenColor)
				}
			case protocol.EventSessionClosed:
				if msg.SessionID == sessionID {
					fmt.Fprintln(w, "session closed")
					return nil
				}
			case protocol.EventError:
				if msg.Error != nil {
					return msg.Error
				}
			}
		}
	}
}

// closeSession sends the close request, then lists sessions. The hub
// handles one connection's requests in order, so an error push for the close
// is already queued when the list ack arrives.
func closeSession(ctx context.Context, c *client.Client, sessionID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.CloseSession(ctx, sessionID); err != nil {
		return err
	}
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return err
	}

drain:
	for {
		select {
		case msg, ok := <-c.Events():
			if !ok {
				return connectionLost(c)
			}
			if msg.Event == protocol.EventError && msg.Error != nil {
				return msg.Error
			}
		default:
			break drain
		}
	}

	if slices.ContainsFunc(sessions, func(s service.Summary) bool { return s.SessionID == sessionID }) {
		return fmt.Errorf("session %s is still active", sessionID)
	}
	return nil
}
