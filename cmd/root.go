package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/sprout/internal/config"
	"github.com/marcus/sprout/internal/derive"
	"github.com/marcus/sprout/internal/garden"
	"github.com/marcus/sprout/internal/output"
	"github.com/marcus/sprout/internal/suggest"
	"github.com/marcus/sprout/internal/syncclient"
)

var (
	version string
	homeDir string
	verbose bool
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "sprout",
	Short: "A small garden that syncs across your devices",
	Long: `sprout - plant, water and harvest a garden from the terminal.

Every action is an event. Your garden is rebuilt from the events, so any
device holding the same events shows the same garden.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) 18}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "garden", Title: "Garden Commands:"},
		&cobra.Group{ID: "energy", Title: "Energy Commands:"},
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	rootCmd.SetFlagErrorFunc(flagError)

	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "config and data directory (default ~/.config/sprout, env SPROUT_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

// flagError reports unknown flags with a suggestion when one is close.
func flagError(cmd *cobra.Command, err error) error {
	msg := err.Error()
	if name, ok := strings.CutPrefix(msg, "unknown flag: "); ok && name != "" {
		var valid []string
		cmd.Flags().VisitAll(func(f *pflag.Flag) { valid = append(valid, "--"+f.Name) })
		if hint := suggest.Hint(name); hint != "" {
			msg += "\n  hint: " + hint
		} else if near := suggest.Flag(name, valid); len(near) > 0 {
			msg += "\n  did you mean " + strings.Join(near, ", ") + "?"
		}
	}
	output.Error("%s", msg)
	return err
}

// configDir returns --home, else the default config directory.
func configDir() (string, error) {
	if homeDir != "" {
		return homeDir, nil
	}
	return config.Dir()
}

// openGarden loads config and opens the local garden, wiring the sync
// server when one is configured.
func openGarden() (*garden.Garden, *config.Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	deviceID := cfg.DeviceID
	if deviceID == "" {
		if deviceID, err = config.EnsureDeviceID(dir); err != nil {
			return nil, nil, fmt.Errorf("device id: %w", err)
		}
	}

	rules := derive.DefaultRules()
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	rules.Boundary.Location = loc

	opts := garden.Options{
		Dir:      cfg.DataDir,
		DeviceID: deviceID,
		Rules:    rules,
		Logger:   slog.Default(),
	}
	if cfg.Sync.Enabled() {
		opts.Remote = syncclient.New(cfg.Sync.URL, cfg.Sync.Token)
	}
	g, err := garden.Open(opts)
	if err != nil {
		return nil, nil, err
	}
	return g, cfg, nil
}

// autoSync runs a sync cycle after a write when enabled. Failures are
// reported but never fail the command; the event is already recorded.
func autoSync(ctx context.Context, g *garden.Garden, cfg *config.Config) {
	if !cfg.Sync.Auto || !g.Online() {
		return
	}
	if _, err := g.Sync(ctx); err != nil {
		slog.Debug("auto sync", "err", err)
	}
}
