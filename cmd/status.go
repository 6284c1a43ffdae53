package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/sprout/internal/cache"
	"github.com/marcus/sprout/internal/derive"
	"github.com/marcus/sprout/internal/garden"
	"github.com/marcus/sprout/internal/output"
)

// statusView is the JSON shape of `sprout status --json`.
type statusView struct {
	Energy      derive.Energy      `json:"energy"`
	Allowances  cache.Allowances   `json:"allowances"`
	Plants      map[string]int     `json:"plants"`
	Events      int                `json:"events"`
	Pending     int                `json:"pending"`
	Diagnostics derive.Diagnostics `json:"diagnostics"`
	Sync        string             `json:"sync"`
	LastSync    *time.Time         `json:"last_sync,omitempty"`
	Warning     string             `json:"warning,omitempty"`
}

func buildStatus(g *garden.Garden) (statusView, error) {
	st := g.State()
	v := statusView{
		Energy:      st.Energy,
		Allowances:  g.Allowances(),
		Plants:      map[string]int{},
		Events:      len(g.Events()),
		Diagnostics: st.Diagnostics,
		Sync:        "offline",
	}
	for _, p := range st.Plants {
		v.Plants[string(p.Status)]++
	}
	pending, err := g.Pending()
	if err != nil {
		return v, err
	}
	v.Pending = len(pending)
	if g.Online() {
		state, last := g.SyncState()
		v.Sync = state.String()
		if !last.FinishedAt.IsZero() {
			v.LastSync = &last.FinishedAt
		}
	}
	if w := g.Warning(); w != nil {
		v.Warning = w.Message
	}
	return v, nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show energy, allowances and garden summary",
	GroupID: "query",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, _, err := openGarden()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer g.Close()

		v, err := buildStatus(g)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonFlag(cmd) {
			return output.JSON(v)
		}

		now := time.Now()
		fmt.Printf("ENERGY     %s\n", output.EnergyBar(v.Energy, 24))
		fmt.Printf("WATER      %d left today, resets %s\n", v.Allowances.WaterRemaining, output.FormatUntil(v.Allowances.NextDailyReset, now))
		fmt.Printf("EXPAND     %d left this week, resets %s\n", v.Allowances.ExpansionRemaining, output.FormatUntil(v.Allowances.NextWeeklyReset, now))
		fmt.Printf("PLANTS     %d growing, %d harvested, %d uprooted\n",
			v.Plants[string(derive.StatusGrowing)], v.Plants[string(derive.StatusHarvested)], v.Plants[string(derive.StatusUprooted)])
		fmt.Printf("EVENTS     %d (%d not yet uploaded)\n", v.Events, v.Pending)
		if d := v.Diagnostics; d.Malformed+d.Unknown > 0 {
			fmt.Printf("SKIPPED    %d malformed, %d from a newer version\n", d.Malformed, d.Unknown)
		}
		fmt.Printf("SYNC       %s\n", v.Sync)
		if v.Warning != "" {
			fmt.Println()
			output.Warning("%s", v.Warning)
		}
		return nil
	},
}

func init() {
	addJSONFlag(statusCmd.Flags())
	rootCmd.AddCommand(statusCmd)
}
