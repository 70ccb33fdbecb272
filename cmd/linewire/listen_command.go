package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"linewire/internal/journal"
	"linewire/internal/logging"
	"linewire/internal/transport"
	"linewire/internal/wire"
)

func newListenCommand(ctx *commandContext) *cobra.Command {
	var sendFlag string
	var journalFlag bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print pushed events as they arrive",
		Long: `Tail unsolicited events from the daemon until interrupted.

Daemons usually push nothing until asked; --send issues one raw request
(same body rules as "call") before tailing. With --journal each event is
also recorded to the local journal database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var store *journal.Store
			if journalFlag {
				store, err = journal.Open(cfg.Journal.Path)
				if err != nil {
					return fmt.Errorf("open journal: %w", err)
				}
				defer store.Close()
			}

			return ctx.withConn(func(conn *transport.Conn) error {
				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				if sendFlag != "" {
					body, err := readBody(cmd.InOrStdin(), []string{sendFlag})
					if err != nil {
						return err
					}
					reqCtx, cancel := context.WithTimeout(runCtx, ctx.requestTimeout())
					frame, err := conn.Request(reqCtx, body)
					cancel()
					if err != nil {
						return fmt.Errorf("initial request: %w", err)
					}
					if err := printJSON(cmd.OutOrStdout(), frame.Raw); err != nil {
						return err
					}
				}

				logger := ctx.logger()
				err := tailEvents(runCtx, cmd, conn, store, logger)
				printStats(cmd, conn.Stats())
				return err
			})
		},
	}

	cmd.Flags().StringVar(&sendFlag, "send", "", "Raw JSON request to issue before tailing (e.g. a subscribe)")
	cmd.Flags().BoolVar(&journalFlag, "journal", false, "Record received events to the journal database")
	return cmd
}

func tailEvents(ctx context.Context, cmd *cobra.Command, conn *transport.Conn, store *journal.Store, logger *slog.Logger) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-conn.Events():
			if !ok {
				return fmt.Errorf("connection closed by daemon")
			}
			line := eventLine(ev)
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
			if store != nil {
				if _, err := store.Record(ctx, ev); err != nil {
					logger.Warn("journal write failed", logging.Error(err))
				}
			}
		}
	}
}

func eventLine(ev wire.Event) string {
	payload := string(ev.Data)
	if payload == "" {
		payload = "{}"
	}
	return fmt.Sprintf("%s %s %s", time.Now().UTC().Format(time.RFC3339), ev.Type, payload)
}

func printStats(cmd *cobra.Command, stats transport.Stats) {
	fmt.Fprintf(cmd.ErrOrStderr(),
		"events: %d delivered, %d dropped; lines discarded: %d; unmatched responses: %d\n",
		stats.EventsDelivered, stats.EventsDropped, stats.LinesDiscarded, stats.UnmatchedResponses)
}
