// Command quill streams, filters, transforms, and aggregates structured
// logs across a parallel worker pool, per the CLI surface documented in
// internal/config.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crimson-sun/quill/internal/config"
	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/coordinator"
	"github.com/crimson-sun/quill/internal/tracker"

	// Register input/output format implementations.
	_ "github.com/crimson-sun/quill/internal/format/csv"
	_ "github.com/crimson-sun/quill/internal/format/jsonlines"
	_ "github.com/crimson-sun/quill/internal/format/kv"
	_ "github.com/crimson-sun/quill/internal/format/plain"
)

func main() {
	cmd := config.NewCommand(run)
	if err := cmd.Execute(); err != nil {
		slog.Error("quill: fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *coordinator.Config, printStats bool) error {
	co := coordinator.New(*cfg)
	bus := co.Bus()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		interrupted := false
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				bus.Send(control.Signal{Kind: control.PrintStats})
			default:
				if interrupted {
					fmt.Fprintln(os.Stderr, "\nquill: second interrupt, terminating immediately")
					bus.Send(control.Signal{Kind: control.Shutdown, Immediate: true})
					return
				}
				interrupted = true
				fmt.Fprintln(os.Stderr, "\nquill: shutting down, finishing in-flight batches (press again to force)")
				bus.Send(control.Signal{Kind: control.Shutdown, Immediate: false})
			}
		}
	}()

	err := co.Run(os.Stdout)
	signal.Stop(sigCh)
	close(sigCh)

	if printStats {
		user, internal, agg := co.Tracker().Snapshot()
		fmt.Fprintln(os.Stderr, "--- quill stats ---")
		fmt.Fprintf(os.Stderr, "lines_read=%d events_created=%d events_output=%d events_filtered=%d parse_errors=%d script_errors=%d\n",
			agg.LinesRead, agg.EventsCreated, agg.EventsOutput, agg.EventsFiltered, agg.ParseErrors, agg.ScriptErrors)
		for _, k := range tracker.SortedKeys(user) {
			fmt.Fprintf(os.Stderr, "%s=%v\n", k, user[k])
		}
		for _, k := range tracker.SortedKeys(internal) {
			fmt.Fprintf(os.Stderr, "%s=%v\n", k, internal[k])
		}
	}

	return err
}
