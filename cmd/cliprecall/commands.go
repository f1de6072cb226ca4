package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/cliprecall/internal/config"
	"github.com/kalambet/cliprecall/internal/ollama"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the recent clip that best matches a query",
	Long: `Find the recent clip that best matches a query.

Examples:
  cliprecall search where did I leave my keys
  cliprecall search --debug red mug`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		debug, _ := cmd.Flags().GetBool("debug")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if debug {
			return runSearchDebug(cmd.Context(), client, os.Stdout, query, limit, time.Now())
		}
		return runSearch(cmd.Context(), client, os.Stdout, query, time.Now())
	},
}

func init() {
	searchCmd.Flags().Bool("debug", false, "rank every clip by embedding similarity")
	searchCmd.Flags().Int("limit", 10, "maximum number of clips in --debug output")
}

type searchResult struct {
	Found  bool `json:"found"`
	Result *struct {
		Clip   clipView `json:"clip"`
		Score  float64  `json:"score"`
		Method string   `json:"method"`
	} `json:"result"`
}

func runSearch(ctx context.Context, client *apiClient, w io.Writer, query string, now time.Time) error {
	resp, err := client.get(ctx, "/search?q="+url.QueryEscape(query))
	if err != nil {
		return err
	}

	var res searchResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if !res.Found || res.Result == nil {
		fmt.Fprintln(w, "No clips recorded yet.")
		return nil
	}

	header := colorize(colorBold, fmt.Sprintf("Best match [%s, score %.3f]", res.Result.Method, res.Result.Score))
	writeClip(w, res.Result.Clip, header, now)
	fmt.Fprintf(w, "  media: %s/clips/%s/media\n", client.baseURL, res.Result.Clip.ID)
	return nil
}

func runSearchDebug(ctx context.Context, client *apiClient, w io.Writer, query string, limit int, now time.Time) error {
	resp, err := client.get(ctx, fmt.Sprintf("/search/debug?q=%s&limit=%d", url.QueryEscape(query), limit))
	if err != nil {
		return err
	}

	var ranked []struct {
		Clip  clipView `json:"clip"`
		Score float64  `json:"score"`
	}
	if err := decodeJSON(resp, &ranked); err != nil {
		return err
	}
	if len(ranked) == 0 {
		fmt.Fprintln(w, "No clips recorded yet.")
		return nil
	}

	for i, r := range ranked {
		writeClip(w, r.Clip, colorize(colorBold, fmt.Sprintf("%2d. [%.3f]", i+1, r.Score)), now)
	}
	return nil
}

// --- clips ---

var clipsCmd = &cobra.Command{
	Use:   "clips",
	Short: "List the clips currently retained",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runClips(cmd.Context(), client, os.Stdout, time.Now())
	},
}

func runClips(ctx context.Context, client *apiClient, w io.Writer, now time.Time) error {
	resp, err := client.get(ctx, "/clips")
	if err != nil {
		return err
	}

	var list []clipView
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No clips recorded yet.")
		return nil
	}

	// Newest first.
	for i := len(list) - 1; i >= 0; i-- {
		writeClip(w, list[i], "•", now)
	}
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cliprecall system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

type healthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Clips   int    `json:"clips"`
	Version uint64 `json:"version"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	printServerStatus(ctx, client, cfg.Server.Port)

	if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Embed model", "%s", cfg.Embedding.Model)
	if cfg.Enrichment.Provider == config.ProviderNone {
		printStatus("Enrichment", "disabled")
	} else {
		printStatus("Enrichment", "%s (%s)", cfg.Enrichment.Provider, cfg.Enrichment.Model)
	}
	printStatus("Clip length", "%s, retained %s", cfg.Clip.Duration, cfg.Clip.Retention)
	printStatus("Frames dir", "%s", cfg.Frames.Dir)
	printStatus("Media", "%s", cfg.Media.Backend)
	return nil
}

func printServerStatus(ctx context.Context, client *apiClient, port int) {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return
	}
	var h healthResponse
	if err := decodeJSON(resp, &h); err != nil {
		printStatus("Server", "error (%v)", err)
		return
	}

	printStatus("Server", "running on port %d", port)
	if h.Running {
		printStatus("Recording", "active")
	} else {
		printStatus("Recording", "idle")
	}
	printStatus("Clips", "%d", h.Clips)
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

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ValidKeys() {
			fmt.Println(k)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}
