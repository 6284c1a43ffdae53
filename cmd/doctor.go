package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/sprout/internal/garden"
	"github.com/marcus/sprout/internal/syncclient"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Check local storage and sync setup",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, cfg, err := openGarden()
		if err != nil {
			fmt.Printf("Local garden ........... FAIL (%v)\n", err)
			return err
		}
		defer g.Close()
		runDoctor(cmd, g, cfg.Sync.URL, cfg.Sync.Token)
		return nil
	},
}

func runDoctor(cmd *cobra.Command, g *garden.Garden, url, token string) {
	st := g.State()
	fmt.Printf("Local garden ........... OK (%d events, %d plants)\n", len(g.Events()), len(st.Plants))

	// Storage
	if w := g.Warning(); w != nil {
		if err := g.Flush(); err != nil {
			fmt.Printf("Storage ................ FAIL (%s: %v)\n", w.Code, err)
		} else {
			fmt.Printf("Storage ................ RECOVERED (%s cleared)\n", w.Code)
		}
	} else {
		fmt.Printf("Storage ................ OK\n")
	}

	// Skipped events
	d := st.Diagnostics
	if d.Malformed+d.Unknown > 0 {
		fmt.Printf("Events ................. WARN (%d malformed, %d unknown kinds kept for newer versions)\n", d.Malformed, d.Unknown)
	} else {
		fmt.Printf("Events ................. OK (%d rejected by rules, %d duplicates)\n", d.Guarded, d.Duplicates)
	}

	// Sync
	if url == "" {
		fmt.Printf("Sync server ............ SKIP (not configured)\n")
		return
	}
	client := syncclient.New(url, token)
	if _, err := client.HealthCheck(cmd.Context()); err != nil {
		fmt.Printf("Sync server ............ FAIL (%v)\n", err)
		return
	}
	fmt.Printf("Sync server ............ OK (%s)\n", url)

	pending, err := g.Pending()
	rejected := 0
	for _, p := range pending {
		if p.Rejected {
			rejected++
		}
	}
	switch {
	case err != nil:
		fmt.Printf("Pending uploads ........ FAIL (%v)\n", err)
	case rejected > 0:
		fmt.Printf("Pending uploads ........ WARN (%d rejected by server; see: sprout sync status)\n", rejected)
	case len(pending) > 0:
		fmt.Printf("Pending uploads ........ WARN (%d waiting; run: sprout sync)\n", len(pending))
	default:
		fmt.Printf("Pending uploads ........ OK\n")
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
