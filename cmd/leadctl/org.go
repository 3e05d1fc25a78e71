package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"engagement_backend/internal/compliance"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type outboundPauser interface {
	SetOutboundPaused(ctx context.Context, organizationID string, paused bool) error
}

func newOrgCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Control organization-wide outbound sending",
	}

	cmd.AddCommand(newOrgToggleCmd(e, "pause", "Stop every automated outbound message for an organization", true))
	cmd.AddCommand(newOrgToggleCmd(e, "resume", "Allow automated outbound messages for an organization again", false))
	return cmd
}

func newOrgToggleCmd(e *env, use, short string, paused bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <organization-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID := strings.TrimSpace(args[0])
			if orgID == "" {
				return fmt.Errorf("organization id is required")
			}

			pool, err := e.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			return setOutbound(cmd.Context(), cmd.OutOrStdout(), compliance.NewRepository(pool), orgID, paused)
		},
	}
}

func setOutbound(ctx context.Context, out io.Writer, p outboundPauser, orgID string, paused bool) error {
	if err := p.SetOutboundPaused(ctx, orgID, paused); err != nil {
		return fmt.Errorf("set outbound paused for %s: %w", orgID, err)
	}
	if paused {
		fmt.Fprintf(out, "%s outbound sending for %s\n", color.New(color.FgYellow).Sprint("paused"), orgID)
		return nil
	}
	fmt.Fprintf(out, "%s outbound sending for %s\n", color.New(color.FgGreen).Sprint("resumed"), orgID)
	return nil
}
