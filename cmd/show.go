package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/marcus/sprout/internal/dateparse"
	"github.com/marcus/sprout/internal/derive"
	"github.com/marcus/sprout/internal/output"
	"github.com/marcus/sprout/internal/suggest"
)

var showCmd = &cobra.Command{
	Use:     "show [plant-id]",
	Aliases: []string{"ls"},
	Short:   "List plants by plot, or show one plant",
	GroupID: "query",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, _, err := openGarden()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer g.Close()
		st := g.State()

		if len(args) == 1 {
			p, ok := st.Plant(args[0])
			if !ok {
				err := fmt.Errorf("no plant %q", args[0])
				if near := suggest.IDs(args[0], sortedKeys(st.Plants)); len(near) > 0 {
					err = fmt.Errorf("%w (did you mean %s?)", err, strings.Join(near, ", "))
				}
				if jsonFlag(cmd) {
					output.JSONError(output.ErrCodeNotFound, err.Error())
				} else {
					output.Error("%v", err)
				}
				return err
			}
			var children []derive.Plant
			for _, id := range st.ChildrenOf[p.ID] {
				children = append(children, st.Plants[id])
			}
			if jsonFlag(cmd) {
				return output.JSON(map[string]any{"plant": p, "children": children})
			}
			note := ""
			if p.Note != "" {
				note = output.RenderNote(p.Note)
			}
			fmt.Print(output.FormatPlantLong(p, children, note))
			return nil
		}

		if history, _ := cmd.Flags().GetBool("history"); history {
			points := g.CapacityHistory()
			if since, _ := cmd.Flags().GetString("since"); since != "" {
				from, err := dateparse.ParseSince(since, time.Now(), g.Rules().Boundary)
				if err != nil {
					output.Error("%v", err)
					return err
				}
				points = slices.DeleteFunc(points, func(pt derive.Point) bool {
					return pt.At.Before(from)
				})
			}
			if jsonFlag(cmd) {
				return output.JSON(points)
			}
			for _, pt := range points {
				fmt.Printf("%s  %-8s %s/%s\n", pt.At.Local().Format("2006-01-02 15:04"), pt.Kind,
					output.FormatAmount(pt.Available), output.FormatAmount(pt.Capacity))
			}
			return nil
		}

		all, _ := cmd.Flags().GetBool("all")
		if jsonFlag(cmd) {
			return output.JSON(st.Plants)
		}
		if len(st.Plants) == 0 {
			output.Info("Nothing planted yet. Try: sprout plant <id> --plot <plot> --species <species>")
			return nil
		}
		width := output.TerminalWidth(80)
		for _, plot := range sortedKeys(st.PlantsInPlot) {
			var lines []string
			for _, id := range st.PlantsInPlot[plot] {
				p := st.Plants[id]
				if !all && p.Status != derive.StatusGrowing {
					continue
				}
				lines = append(lines, output.FormatPlantShort(p))
			}
			if len(lines) == 0 {
				continue
			}
			fmt.Print(output.SectionHeader(plot))
			for _, l := range lines {
				fmt.Println(ansi.Truncate("  "+l, width, "…"))
			}
		}
		return nil
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func init() {
	addJSONFlag(showCmd.Flags())
	showCmd.Flags().BoolP("all", "a", false, "include harvested and uprooted plants")
	showCmd.Flags().Bool("history", false, "show energy after every applied event")
	showCmd.Flags().String("since", "", "with --history: only events from this point (today, yesterday, this-week, -3d, 2026-03-01, monday)")
	rootCmd.AddCommand(showCmd)
}
