package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mescon/timekeeper/internal/client"
)

var (
	createKind     string
	createDuration string
	eventsLimit    int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		sessions, err := newClient().List(ctx)
		if err != nil {
			return err
		}
		return printSessions(cmd.OutOrStdout(), outputFormat, sessions)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionAction((*client.Client).Get),
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a stopwatch or countdown",
	Long: `Create a new session. Countdowns take a duration either as a Go
duration or in clock notation.

Example:
  timekeeperctl create "Lap timer"
  timekeeperctl create Tea --kind countdown --duration 3m
  timekeeperctl create Tea --kind countdown --duration 00:03:00`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if createKind != "stopwatch" && createKind != "countdown" {
			return fmt.Errorf("unknown kind %q (want stopwatch or countdown)", createKind)
		}
		var d time.Duration
		if createDuration != "" {
			if createKind != "countdown" {
				return fmt.Errorf("--duration only applies to countdowns")
			}
			var err error
			if d, err = parseDuration(createDuration); err != nil {
				return err
			}
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()
		s, err := newClient().Create(ctx, args[0], createKind, d)
		if err != nil {
			return err
		}
		return printSession(cmd.OutOrStdout(), outputFormat, s)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Start or resume a session",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionAction((*client.Client).Start),
}

var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Pause a running session",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionAction((*client.Client).Stop),
}

var resetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Return a session to idle",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionAction((*client.Client).Reset),
}

var setCmd = &cobra.Command{
	Use:   "set <session-id> <duration>",
	Short: "Set a countdown's duration",
	Long: `Set the duration of an idle or expired countdown. Running and paused
countdowns keep their current run.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := parseDuration(args[1])
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		s, err := newClient().SetDuration(ctx, args[0], d)
		if err != nil {
			return err
		}
		return printSession(cmd.OutOrStdout(), outputFormat, s)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <session-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := newClient().Delete(ctx, args[0]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return err
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show the stored history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		events, err := newClient().Events(ctx, args[0], eventsLimit)
		if err != nil {
			return err
		}
		return printEvents(cmd.OutOrStdout(), outputFormat, events)
	},
}

func init() {
	createCmd.Flags().StringVarP(&createKind, "kind", "k", "stopwatch", "session kind: stopwatch or countdown")
	createCmd.Flags().StringVarP(&createDuration, "duration", "d", "", "countdown duration, e.g. 3m or 00:03:00")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "number of most recent events to show")

	rootCmd.AddCommand(listCmd, getCmd, createCmd, startCmd, stopCmd, resetCmd, setCmd, deleteCmd, eventsCmd)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

// sessionAction runs a single-session client call and prints the result.
func sessionAction(op func(*client.Client, context.Context, string) (client.Session, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		s, err := op(newClient(), ctx, args[0])
		if err != nil {
			return err
		}
		return printSession(cmd.OutOrStdout(), outputFormat, s)
	}
}
