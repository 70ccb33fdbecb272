package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"linewire/internal/transport"
)

func newCallCommand(ctx *commandContext) *cobra.Command {
	var timeoutFlag time.Duration
	var idFlag string

	cmd := &cobra.Command{
		Use:   "call [body]",
		Short: "Send one raw JSON request and print the response",
		Long: `Send a single JSON object to the daemon and wait for its answer.

The body is taken from the first argument, or from stdin when omitted or
given as "-". The correlation id is minted automatically; pass --id to pin
a specific one. The response document is printed verbatim; a daemon-side
failure arrives inside the document rather than as a command error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			timeout := timeoutFlag
			if timeout <= 0 {
				timeout = ctx.requestTimeout()
			}

			return ctx.withConn(func(conn *transport.Conn) error {
				reqCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()

				raw, err := request(reqCtx, conn, idFlag, body)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), raw)
			})
		},
	}

	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "How long to wait for the response (default from config)")
	cmd.Flags().StringVar(&idFlag, "id", "", "Pin the correlation id instead of minting one")
	return cmd
}

func request(ctx context.Context, conn *transport.Conn, pinned string, body map[string]any) (json.RawMessage, error) {
	if pinned == "" {
		frame, err := conn.Request(ctx, body)
		return frame.Raw, err
	}

	id, err := uuid.Parse(pinned)
	if err != nil {
		return nil, fmt.Errorf("parse --id: %w", err)
	}
	if err := conn.Send(id, body); err != nil {
		return nil, err
	}
	frame, err := conn.Await(ctx, id)
	return frame.Raw, err
}

func readBody(stdin io.Reader, args []string) (map[string]any, error) {
	var raw []byte
	if len(args) == 1 && args[0] != "-" {
		raw = []byte(args[0])
	} else {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read request body from stdin: %w", err)
		}
		raw = data
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty request body")
	}

	var body map[string]any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}

	// Most daemons route on "type"; surface the omission early rather than
	// waiting out the full timeout.
	if kind, ok := body["type"].(string); !ok || strings.TrimSpace(kind) == "" {
		return nil, fmt.Errorf("request body is missing a type field")
	}
	return body, nil
}
