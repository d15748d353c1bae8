package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/folio/internal/config"
	"github.com/kalambet/folio/internal/resume"
)

func requireUser() error {
	if userFlag == "" {
		return errors.New("acting user is required: pass --user or set FOLIO_USER")
	}
	return nil
}

func portfolioPath(id string, parts ...string) string {
	p := "/portfolios/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// --- portfolios ---

type summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Template  string    `json:"template"`
	CreatedAt time.Time `json:"created_at"`
	Slug      string    `json:"slug"`
	URL       string    `json:"url"`
}

var portfoliosCmd = &cobra.Command{
	Use:   "portfolios",
	Short: "List portfolios, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			owner = userFlag
		}
		if owner == "" {
			return errors.New("--owner or --user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/portfolios?owner="+url.QueryEscape(owner))
		if err != nil {
			return err
		}
		var list []summary
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(stdout, "No portfolios found.")
			return nil
		}
		for _, s := range list {
			name := s.Name
			if name == "" {
				name = "(unnamed)"
			}
			line := fmt.Sprintf("%s  %s  %-10s  %s", colorize(colorCyan, s.ID), s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Template, name)
			if s.URL != "" {
				line += "  " + s.URL
			}
			fmt.Fprintln(stdout, line)
		}
		return nil
	},
}

func init() {
	portfoliosCmd.Flags().String("owner", "", "owner whose portfolios to list (default: --user)")
}

var createCmd = &cobra.Command{
	Use:   "create <document.json>",
	Short: "Create a portfolio from a document file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		template, _ := cmd.Flags().GetString("template")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading document: %w", err)
		}
		var doc json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("invalid JSON in %s: %w", args[0], err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/portfolios", map[string]any{
			"template": template,
			"document": doc,
		})
		if err != nil {
			return err
		}
		var rec struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printSuccess("Created portfolio %s", rec.ID)
		return nil
	},
}

func init() {
	createCmd.Flags().String("template", "minimal", "template name")
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a portfolio as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), portfolioPath(args[0]))
		if err != nil {
			return err
		}
		var rec any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		return printJSON(rec)
	},
}

// --- AI channel ---

type chatReply struct {
	Reply struct {
		Text string `json:"text"`
	} `json:"reply"`
}

func sendInstruction(ctx context.Context, id, instruction string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	printStep("Working on it...")
	resp, err := client.post(ctx, portfolioPath(id, "chat"), map[string]string{"message": instruction})
	if err != nil {
		return err
	}
	var out chatReply
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	fmt.Fprintln(stdout, out.Reply.Text)
	printSuccess("Portfolio updated")
	return nil
}

var chatCmd = &cobra.Command{
	Use:   "chat <id> <instruction...>",
	Short: "Ask for a change in plain language",
	Long: `Ask for a change in plain language.

Examples:
  folio chat 3f2a... "make the hero title shorter"
  folio chat 3f2a... add a project called folio written in Go`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		return sendInstruction(cmd.Context(), args[0], strings.Join(args[1:], " "))
	},
}

var importResumeCmd = &cobra.Command{
	Use:   "import-resume <id> <resume.pdf>",
	Short: "Fill a portfolio from a PDF resume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		text, err := resume.ExtractFile(args[1])
		if err != nil {
			return err
		}
		printStep("Extracted %d characters from %s", len(text), args[1])
		return sendInstruction(cmd.Context(), args[0], resume.Instruction(text))
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <id>",
	Short: "Show the chat transcript of a portfolio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), portfolioPath(args[0], "transcript"))
		if err != nil {
			return err
		}
		var msgs []transcriptLine
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}
		printTranscript(msgs)
		return nil
	},
}

// --- direct channel ---

var reorderCmd = &cobra.Command{
	Use:   "reorder <id> <type...>",
	Short: "Reorder the movable sections",
	Long: `Reorder the movable sections. Fixed sections (hero, userInfo, themes)
keep their place; list every movable section exactly once.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), portfolioPath(args[0], "order"), map[string][]string{"order": args[1:]})
		if err != nil {
			return err
		}
		var out map[string]any
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Sections reordered")
		return nil
	},
}

func setField(ctx context.Context, id, field, value string) (string, error) {
	client, err := newAPIClient()
	if err != nil {
		return "", err
	}
	resp, err := client.put(ctx, portfolioPath(id, field), map[string]string{"value": value})
	if err != nil {
		return "", err
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func fieldCmd(use, short, field, label string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			status, err := setField(cmd.Context(), args[0], field, args[1])
			if err != nil {
				return err
			}
			if status == "superseded" {
				printWarning("A newer %s change won; %q was not applied", label, args[1])
				return nil
			}
			printSuccess("%s set to %s", label, args[1])
			return nil
		},
	}
}

var (
	themeCmd = fieldCmd("theme <id> <theme>", "Apply a theme", "theme", "Theme")
	fontCmd  = fieldCmd("font <id> <font>", "Apply a font", "font", "Font")
)

var styleCmd = &cobra.Command{
	Use:   "style <id> [css]",
	Short: "Apply custom CSS",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		var css string
		switch {
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading css: %w", err)
			}
			css = string(data)
		case len(args) == 2:
			css = args[1]
		default:
			return errors.New("pass the CSS as an argument or with --file")
		}
		status, err := setField(cmd.Context(), args[0], "style", css)
		if err != nil {
			return err
		}
		if status == "superseded" {
			printWarning("A newer custom CSS change won")
			return nil
		}
		printSuccess("Custom CSS applied")
		return nil
	},
}

func init() {
	styleCmd.Flags().String("file", "", "read CSS from file")
}

var sectionCmd = &cobra.Command{
	Use:   "section <id> <type> <data.json>",
	Short: "Replace the payload of one section",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("reading section data: %w", err)
		}
		var payload json.RawMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("invalid JSON in %s: %w", args[2], err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), portfolioPath(args[0], "sections", url.PathEscape(args[1])), payload)
		if err != nil {
			return err
		}
		var out map[string]any
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Section %s updated", args[1])
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <id>",
	Short: "Publish a portfolio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), portfolioPath(args[0], "publish"), nil)
		if err != nil {
			return err
		}
		var link struct {
			Slug string `json:"slug"`
			URL  string `json:"url"`
		}
		if err := decodeJSON(resp, &link); err != nil {
			return err
		}
		printSuccess("Published at %s", link.URL)
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
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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

var configUnsetCmd = &cobra.Command{
	Use:       "unset <key>",
	Short:     "Remove a stored configuration value",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
