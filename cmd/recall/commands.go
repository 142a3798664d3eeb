package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minervahq/recall/internal/api"
	"github.com/minervahq/recall/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question through the cache",
	Long: `Ask a question through the cache.

Examples:
  recall ask "when are estimated taxes due"
  recall ask --session 3f2a "and for the fourth quarter?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		session, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := api.QueryRequest{SessionID: session, Question: question}
		resp, err := client.post(cmd.Context(), "/v1/query", req)
		if err != nil {
			return err
		}

		var result api.QueryResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer.Response())
		if s, ok := result.Answer.Structured(); ok && s.FollowUp != "" {
			fmt.Printf("\n%s %s\n", colorize(colorCyan, "Follow-up:"), s.FollowUp)
		}

		meta := fmt.Sprintf("source: %s  confidence: %.2f", result.Source, result.Confidence)
		if result.Similarity > 0 {
			meta += fmt.Sprintf("  similarity: %.3f", result.Similarity)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), colorize(colorYellow, meta))
		fmt.Fprintln(cmd.ErrOrStderr(), colorize(colorYellow, "session: "+result.SessionID))
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id to continue (omit to start a new session)")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show recent turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/sessions/%s/history?limit=%d", args[0], limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var entries []api.HistoryEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No history found.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s %s\n", colorize(colorBold, "User:"), e.Question)
			fmt.Printf("%s %s\n\n", colorize(colorCyan, "AI:"), e.Answer.Response())
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of turns to show")
}

// --- refresh ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the hot cache from the most asked questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/refresh", nil)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Hot cache rebuilt with %v entries", result["hot_entries"])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
