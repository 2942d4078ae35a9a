package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowfc-progression/internal/domain"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newPlayerCmd())
	rootCmd.AddCommand(progressionCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(newMatchesCmd())
	rootCmd.AddCommand(newLeaderboardCmd())
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health and readiness of the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := performRequest(cmd, http.MethodGet, "/health", nil); err != nil {
			return err
		}
		return performRequest(cmd, http.MethodGet, "/ready", nil)
	},
}

func newRegisterCmd() *cobra.Command {
	var player domain.Player
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a player profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return performRequest(cmd, http.MethodPost, "/api/v1/players", player)
		},
	}
	cmd.Flags().StringVar(&player.ID, "id", "", "Player ID (generated when empty)")
	cmd.Flags().StringVar(&player.Username, "username", "", "Username")
	cmd.Flags().StringVar(&player.FullName, "full-name", "", "Full name")
	cmd.Flags().StringVar(&player.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&player.TeamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&player.Position, "position", "", "Playing position")
	cmd.Flags().IntVar(&player.JerseyNumber, "jersey", 0, "Jersey number")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var raw domain.RawStatRecord
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit one match performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if raw.Date == "" {
				raw.Date = time.Now().UTC().Format(domain.DateLayout)
			}
			return performRequest(cmd, http.MethodPost, "/api/v1/stats", raw)
		},
	}
	cmd.Flags().StringVar(&raw.PlayerID, "player", "", "Player ID")
	cmd.Flags().StringVar(&raw.MatchID, "match", "", "Match ID")
	cmd.Flags().IntVar(&raw.Goals, "goals", 0, "Goals scored")
	cmd.Flags().IntVar(&raw.Assists, "assists", 0, "Assists")
	cmd.Flags().IntVar(&raw.Passes, "passes", 0, "Completed passes")
	cmd.Flags().IntVar(&raw.Tackles, "tackles", 0, "Tackles")
	cmd.Flags().IntVar(&raw.Shots, "shots", 0, "Shots")
	cmd.Flags().IntVar(&raw.Saves, "saves", 0, "Saves")
	cmd.Flags().IntVar(&raw.PlaytimeMinutes, "minutes", 90, "Minutes played")
	cmd.Flags().Float64Var(&raw.Rating, "rating", 0, "Match rating from 0 to 10")
	cmd.Flags().StringVar(&raw.Date, "date", "", "Match date as YYYY-MM-DD (today when empty)")
	_ = cmd.MarkFlagRequired("player")
	return cmd
}

func newPlayerCmd() *cobra.Command {
	var (
		fullName, avatar, team, position string
		jersey                           int
	)
	cmd := &cobra.Command{
		Use:   "player <player-id>",
		Short: "Show a player's profile card, or edit it when any field flag is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := "/api/v1/players/" + url.PathEscape(args[0])

			var update domain.PlayerUpdate
			flags := cmd.Flags()
			if flags.Changed("full-name") {
				update.FullName = &fullName
			}
			if flags.Changed("avatar") {
				update.AvatarURL = &avatar
			}
			if flags.Changed("team") {
				update.TeamID = &team
			}
			if flags.Changed("position") {
				update.Position = &position
			}
			if flags.Changed("jersey") {
				update.JerseyNumber = &jersey
			}
			if update.IsEmpty() {
				return performRequest(cmd, http.MethodGet, endpoint, nil)
			}
			return performRequest(cmd, http.MethodPatch, endpoint, update)
		},
	}
	cmd.Flags().StringVar(&fullName, "full-name", "", "New full name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "New avatar URL")
	cmd.Flags().StringVar(&team, "team", "", "New team ID")
	cmd.Flags().StringVar(&position, "position", "", "New playing position")
	cmd.Flags().IntVar(&jersey, "jersey", 0, "New jersey number")
	return cmd
}

var progressionCmd = &cobra.Command{
	Use:   "progression <player-id>",
	Short: "Show a player's XP, level and card tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return performRequest(cmd, http.MethodGet, "/api/v1/players/"+url.PathEscape(args[0])+"/progression", nil)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <player-id>",
	Short: "Show a player's aggregated match totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return performRequest(cmd, http.MethodGet, "/api/v1/players/"+url.PathEscape(args[0])+"/summary", nil)
	},
}

func newMatchesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "matches <player-id>",
		Short: "List a player's most recent matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := "/api/v1/players/" + url.PathEscape(args[0]) + "/matches"
			if limit > 0 {
				endpoint += "?limit=" + strconv.Itoa(limit)
			}
			return performRequest(cmd, http.MethodGet, endpoint, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of matches (server default when 0)")
	return cmd
}

func newLeaderboardCmd() *cobra.Command {
	var metric string
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the ranked leaderboard for a metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("metric", metric)
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return performRequest(cmd, http.MethodGet, "/api/v1/leaderboard?"+q.Encode(), nil)
		},
	}
	cmd.Flags().StringVar(&metric, "metric", string(domain.MetricGoals), "Ranking metric: goals, assists or rating")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of entries (server default when 0)")
	return cmd
}

// performRequest sends body as JSON and prints the response. Non-2xx
// responses are returned as errors after printing.
func performRequest(cmd *cobra.Command, method, endpoint string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, host+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller-ID", caller)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	out := cmd.OutOrStdout()
	var pretty bytes.Buffer
	if json.Indent(&pretty, respBody, "", "  ") == nil {
		respBody = pretty.Bytes()
	}
	fmt.Fprintf(out, "%s %s -> %d\n%s\n", method, endpoint, resp.StatusCode, respBody)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d", method, endpoint, resp.StatusCode)
	}
	return nil
}
