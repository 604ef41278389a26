package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qkeystore/internal/audit"
)

func (a *app) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log verification",
		Long: `Commands for verifying and reading the audit log.

Each event is chained to the previous one with SHA-256, starting from
hash_prev="sha256:genesis".`,
	}
	cmd.AddCommand(auditVerifyCmd())
	cmd.AddCommand(auditTailCmd())
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <log>",
		Short: "Verify the hash chain of an audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			count, err := audit.VerifyChain(args[0])
			if err != nil {
				_, _ = fmt.Fprintf(out, "VERIFICATION FAILED\n  Valid events: %d\n", count)
				return fmt.Errorf("audit log verification failed: %w", err)
			}
			_, _ = fmt.Fprintf(out, "VERIFICATION PASSED\n  Total events: %d\n", count)
			return nil
		},
	}
}

func auditTailCmd() *cobra.Command {
	var num int
	cmd := &cobra.Command{
		Use:   "tail <log>",
		Short: "Show recent audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to read audit log: %w", err)
			}
			defer func() { _ = f.Close() }()

			var lines []string
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				if line := strings.TrimSpace(scanner.Text()); line != "" {
					lines = append(lines, line)
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			if len(lines) > num {
				lines = lines[len(lines)-num:]
			}

			out := cmd.OutOrStdout()
			for _, line := range lines {
				var e audit.Event
				if err := json.Unmarshal([]byte(line), &e); err != nil {
					_, _ = fmt.Fprintf(out, "  [ERROR] %s\n", err)
					continue
				}
				printEvent(out, &e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&num, "num", "n", 10, "Number of events to show")
	return cmd
}

func printEvent(w io.Writer, e *audit.Event) {
	mark := "ok"
	if e.Result == audit.ResultFailure {
		mark = "FAILED"
	}
	_, _ = fmt.Fprintf(w, "[%s] %s %s by %s@%s\n", e.Timestamp, e.EventType, mark, e.Actor.ID, e.Actor.Host)

	var fields []string
	add := func(k, v string) {
		if v != "" {
			fields = append(fields, k+"="+v)
		}
	}
	add("alias", e.Object.Alias)
	add("subject", e.Object.Subject)
	add("serial", e.Object.Serial)
	add("kind", e.Context.Kind)
	add("algorithm", e.Context.Algorithm)
	add("strategy", e.Context.Strategy)
	add("request", e.Context.RequestID)
	add("signer", e.Context.Signer)
	add("reason", e.Context.Reason)
	if len(fields) > 0 {
		_, _ = fmt.Fprintf(w, "    %s\n", strings.Join(fields, " "))
	}
}
