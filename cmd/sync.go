package cmd

import (
	"fmt"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/sprout/internal/config"
	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/garden"
	"github.com/marcus/sprout/internal/output"
	"github.com/marcus/sprout/internal/syncclient"
)

// Styles for sync tail output
var (
	pullArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("←")
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Sync local events with the sync server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		pullOnly, _ := cmd.Flags().GetBool("pull")
		full, _ := cmd.Flags().GetBool("full")

		g, _, err := openGarden()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer g.Close()

		if !g.Online() {
			output.Error("sync is not configured; run: sprout sync init --url <server> --token <token>")
			return garden.ErrOffline
		}
		if full {
			if err := g.ResetCursor(); err != nil {
				output.Error("reset cursor: %v", err)
				return err
			}
		}

		if pullOnly {
			res, err := g.Pull(cmd.Context())
			if err != nil {
				output.Error("pull: %v", err)
				return err
			}
			if jsonFlag(cmd) {
				return output.JSON(res)
			}
			output.Success("Pulled %d new events (%s, %d rows read)", res.Added, res.Mode, res.Rows)
			return nil
		}

		res, err := g.Sync(cmd.Context())
		if jsonFlag(cmd) {
			v := map[string]any{
				"mode": res.Mode, "pulled": res.Pulled, "pushed": res.Pushed, "requeued": res.Requeued,
			}
			if err != nil {
				v["error"] = err.Error()
			}
			if jerr := output.JSON(v); jerr != nil {
				return jerr
			}
			return err
		}
		if err != nil {
			// Local data is untouched; the next cycle picks up where this one stopped.
			output.Warning("sync incomplete: %v", err)
			return err
		}
		output.Success("Synced: %d pushed, %d pulled (%s)", res.Pushed, res.Pulled, res.Mode)
		if res.Requeued > 0 {
			output.Info("%d events missing from the server were uploaded again", res.Requeued)
		}
		return nil
	},
}

var syncInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Configure the sync server for this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		auto, _ := cmd.Flags().GetBool("auto")

		dir, err := configDir()
		if err != nil {
			return err
		}
		client := syncclient.New(url, token)
		if _, err := client.HealthCheck(cmd.Context()); err != nil {
			output.Warning("server not reachable yet: %v", err)
		}

		err = config.Update(dir, func(cfg *config.Config) error {
			cfg.Sync = config.Sync{URL: client.BaseURL, Token: token, Auto: auto}
			return nil
		})
		if err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("Sync configured for %s", client.BaseURL)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List events waiting to be uploaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, _, err := openGarden()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer g.Close()

		pending, err := g.Pending()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonFlag(cmd) {
			return output.JSON(pending)
		}
		if len(pending) == 0 {
			output.Success("Everything is uploaded")
			return nil
		}
		fmt.Printf("PENDING (%d):\n", len(pending))
		for _, p := range pending {
			line := fmt.Sprintf("  %s  added %s", p.ClientID, output.FormatTimeAgo(p.AddedAt))
			if p.Rejected {
				line += dimStyle.Render(fmt.Sprintf("  rejected by server, not retried: %s", p.LastError))
			} else if p.Attempts > 0 {
				line += dimStyle.Render(fmt.Sprintf("  %d attempts, last: %s", p.Attempts, p.LastError))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var syncTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow events arriving from other devices",
	Long: `Open the realtime channel and print events as other devices record them.
Press Ctrl-C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, _, err := openGarden()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer g.Close()

		var mu gosync.Mutex
		seen := len(g.Events())
		g.OnChange(func() {
			mu.Lock()
			defer mu.Unlock()
			evs := g.Events()
			for _, ev := range evs[seen:] {
				printTailEvent(ev)
			}
			seen = len(evs)
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !g.Online() {
			output.Error("sync is not configured")
			return garden.ErrOffline
		}
		if _, err := g.Sync(ctx); err != nil {
			// the realtime loop keeps reconnecting on its own
			output.Warning("initial sync: %v", err)
		}
		fmt.Println(dimStyle.Render("following; Ctrl-C to stop"))
		<-ctx.Done()
		return nil
	},
}

func printTailEvent(ev event.Event) {
	id := event.PrimaryID(ev)
	fmt.Printf("%s %s  %-8s %s\n", pullArrow, dimStyle.Render(ev.Timestamp.Local().Format("15:04:05")), ev.Kind, id)
}

func init() {
	syncCmd.Flags().Bool("pull", false, "pull only")
	syncCmd.Flags().Bool("full", false, "forget the cursor and pull everything")
	addJSONFlag(syncCmd.Flags())

	syncInitCmd.Flags().String("url", "", "sync server URL (required)")
	syncInitCmd.Flags().String("token", "", "access token from the server admin (required)")
	syncInitCmd.Flags().Bool("auto", false, "sync after every action")
	syncInitCmd.MarkFlagRequired("url")
	syncInitCmd.MarkFlagRequired("token")

	addJSONFlag(syncStatusCmd.Flags())

	syncCmd.AddCommand(syncInitCmd, syncStatusCmd, syncTailCmd)
	rootCmd.AddCommand(syncCmd)
}
