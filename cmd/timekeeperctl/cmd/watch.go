package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mescon/timekeeper/internal/client"
	"github.com/mescon/timekeeper/internal/clock"
	"github.com/mescon/timekeeper/internal/scheduler"
)

var (
	watchInterval time.Duration
	watchKeep     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session's display until interrupted",
	Long: `Poll a session and redraw its display on one line. A countdown that
expires ends the watch unless --keep is given.

Example:
  timekeeperctl watch 6f1c2e7a-...
  timekeeperctl watch 6f1c2e7a-... --interval 250ms --keep`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := newClient()
		fetch := func(ctx context.Context) (client.Session, error) {
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return c.Get(reqCtx, args[0])
		}

		loop := scheduler.New(clock.NewRealClock())
		return watchSession(ctx, loop, cmd.OutOrStdout(), fetch, watchInterval, !watchKeep)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 100*time.Millisecond, "poll interval")
	watchCmd.Flags().BoolVar(&watchKeep, "keep", false, "keep watching after a countdown expires")
	rootCmd.AddCommand(watchCmd)
}

// watchSession redraws the session line every interval on loop until ctx
// ends, fetching fails, or (with exitOnExpire) the countdown expires. The
// loop is driven on the calling goroutine. Fetches run on their own goroutine
// and post the result back, one at a time, so loop callbacks never wait on
// the network.
func watchSession(ctx context.Context, loop *scheduler.Loop, w io.Writer,
	fetch func(context.Context) (client.Session, error), interval time.Duration, exitOnExpire bool) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Loop-owned.
	var (
		watchErr error
		width    int
		inFlight bool
		finished bool
	)

	show := func(s client.Session, err error) {
		inFlight = false
		if finished {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				watchErr = err
			}
			finished = true
			cancel()
			return
		}

		line := statusLine(s)
		// Pad over whatever the previous, longer line left behind.
		pad := width - len(line)
		if pad < 0 {
			pad = 0
		}
		width = len(line)
		fmt.Fprintf(w, "\r%s%*s", line, pad, "")

		if exitOnExpire && s.Phase == "expired" {
			finished = true
			cancel()
		}
	}

	request := func() {
		if inFlight || finished {
			return
		}
		inFlight = true
		go func() {
			s, err := fetch(ctx)
			// ErrStopped only means the watch already ended.
			_ = loop.Post(func() { show(s, err) })
		}()
	}

	if err := loop.Post(request); err != nil {
		return err
	}
	loop.Schedule(interval, request)

	err := loop.Run(ctx)
	fmt.Fprintln(w)

	if watchErr != nil {
		return watchErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
