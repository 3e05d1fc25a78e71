package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"engagement_backend/internal/conversations"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newConversationCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect conversation state",
	}

	cmd.AddCommand(newConversationShowCmd(e))
	cmd.AddCommand(newConversationListCmd(e))
	return cmd
}

func newConversationShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <organization-id> <lead-id>",
		Short: "Print one conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			conv, err := conversations.NewRepository(pool).Get(cmd.Context(),
				conversations.Key{OrganizationID: args[0], LeadID: args[1]})
			if err != nil {
				return err
			}
			printConversation(cmd.OutOrStdout(), conv)
			return nil
		},
	}
}

func newConversationListCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations in a state",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawState, _ := cmd.Flags().GetString("state")
			limit, _ := cmd.Flags().GetInt("limit")
			state, ok := conversations.ParseState(strings.ToUpper(rawState))
			if !ok {
				return fmt.Errorf("unknown state %q", rawState)
			}

			pool, err := e.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			convs, err := conversations.NewRepository(pool).ListByState(cmd.Context(), state, limit)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no conversations in %s\n", state)
				return nil
			}
			for _, c := range convs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\t%s\tscore %d\tupdated %s\n",
					c.OrganizationID, c.LeadID, stateLabel(c.State), c.LeadScore,
					c.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().String("state", string(conversations.StateHandedOff), "Conversation state")
	cmd.Flags().Int("limit", 50, "Maximum number of conversations")
	return cmd
}

func printConversation(w io.Writer, c conversations.Conversation) {
	fmt.Fprintf(w, "%s/%s\n", c.OrganizationID, c.LeadID)
	fmt.Fprintf(w, "  state:        %s (v%d)\n", stateLabel(c.State), c.Version)
	fmt.Fprintf(w, "  score:        %d\n", c.LeadScore)
	if c.HandoffReason != "" {
		fmt.Fprintf(w, "  handoff:      %s\n", c.HandoffReason)
	}
	fmt.Fprintf(w, "  last agent:   %s\n", formatTime(c.LastAgentMessageAt))
	fmt.Fprintf(w, "  last lead:    %s\n", formatTime(c.LastLeadResponseAt))
	fmt.Fprintf(w, "  fallback:     %s\n", formatTime(c.HandoffFallbackSentAt))
	fmt.Fprintf(w, "  reactivated:  %s\n", formatTime(c.HandoffReactivatedAt))

	if len(c.QualificationData) == 0 {
		return
	}
	fields := make([]string, 0, len(c.QualificationData))
	for k := range c.QualificationData {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	fmt.Fprintln(w, "  qualification:")
	for _, k := range fields {
		fmt.Fprintf(w, "    %s = %v\n", k, c.QualificationData[k])
	}
}

func stateLabel(s conversations.State) string {
	var c *color.Color
	switch s {
	case conversations.StateHandedOff:
		c = color.New(color.FgRed)
	case conversations.StateQualifying, conversations.StateObjectionHandling, conversations.StateScheduling, conversations.StateNurture:
		c = color.New(color.FgYellow)
	case conversations.StateCompleted:
		c = color.New(color.FgHiGreen)
	default:
		c = color.New(color.FgHiBlue)
	}
	return c.Sprint(string(s))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
