package main

import (
	"fmt"
	"io"
	"time"

	"engagement_backend/internal/dedupe"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const confirmClear = "clear-all"

func newDedupeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Inspect and clear webhook dedupe marks",
	}

	cmd.AddCommand(newDedupeListCmd(e))
	cmd.AddCommand(newDedupeTTLCmd(e))
	cmd.AddCommand(newDedupeClearCmd(e))
	return cmd
}

func openDeduplicator(cmd *cobra.Command, e *env) (*dedupe.Deduplicator, func(), error) {
	ttl, err := e.dedupeTTL()
	if err != nil {
		return nil, nil, err
	}
	rdb, err := e.openRedis(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return dedupe.New(rdb, ttl, e.log, nil), func() { _ = rdb.Close() }, nil
}

func newDedupeListCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active dedupe marks",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			d, closeFn, err := openDeduplicator(cmd, e)
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := d.EnumerateActive(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printDedupeRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().Int("limit", 100, "Maximum number of marks to list (0 for all)")
	return cmd
}

func newDedupeTTLCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "ttl <event-type> <entity-id>",
		Short: "Show whether an event is still deduplicated and for how long",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := openDeduplicator(cmd, e)
			if err != nil {
				return err
			}
			defer closeFn()

			eventType, entityID := args[0], args[1]
			ttl, err := d.RemainingTTL(cmd.Context(), entityID, eventType)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ttl <= 0 {
				fmt.Fprintf(out, "%s %s/%s\n", color.New(color.FgHiGreen).Sprint("clear"), eventType, entityID)
				return nil
			}
			fmt.Fprintf(out, "%s %s/%s expires in %s\n",
				color.New(color.FgYellow).Sprint("marked"), eventType, entityID, ttl.Round(time.Second))
			return nil
		},
	}
}

func newDedupeClearCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every dedupe mark",
		Long:  "Delete every dedupe mark. Redelivered webhooks will be processed again, so pass --confirm=" + confirmClear + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm, _ := cmd.Flags().GetString("confirm")
			if confirm != confirmClear {
				return fmt.Errorf("refusing to clear without --confirm=%s", confirmClear)
			}
			d, closeFn, err := openDeduplicator(cmd, e)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := d.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d dedupe marks\n", n)
			return nil
		},
	}

	cmd.Flags().String("confirm", "", "Must equal "+confirmClear)
	return cmd
}

func printDedupeRecords(w io.Writer, records []dedupe.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no active dedupe marks")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\tfirst seen %s\texpires in %s\n",
			color.New(color.FgCyan).Sprint(r.EventType),
			r.EntityID,
			r.FirstSeenAt.UTC().Format(time.RFC3339),
			r.TTL.Round(time.Second))
	}
}
