package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/garden"
	"github.com/marcus/sprout/internal/output"
)

// ErrRejected is returned when a recorded action was skipped by the rules.
var ErrRejected = errors.New("action rejected by garden rules")

// record opens the garden, records a and reports the outcome.
func record(cmd *cobra.Command, a event.Action, describe string) error {
	g, cfg, err := openGarden()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer g.Close()

	out, err := g.Record(a)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	reportWarning(g)
	autoSync(cmd.Context(), g, cfg)

	if jsonFlag(cmd) {
		return output.JSON(map[string]any{
			"client_id": out.Event.ClientID,
			"applied":   out.Applied,
			"confirmed": out.Confirmed(cmd.Context()),
			"energy":    g.State().Energy,
		})
	}
	if !out.Applied {
		output.Warning("%s was recorded but had no effect (%v)", describe, ErrRejected)
		return ErrRejected
	}
	output.Success("%s", describe)
	fmt.Printf("energy  %s\n", output.EnergyBar(g.State().Energy, 20))
	return nil
}

func reportWarning(g *garden.Garden) {
	if w := g.Warning(); w != nil {
		output.Warning("%s", w.Message)
	}
}

func addJSONFlag(fs *pflag.FlagSet) {
	fs.Bool("json", false, "output JSON")
}

func jsonFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

var plantCmd = &cobra.Command{
	Use:   "plant <plant-id>",
	Short: "Plant something, paying its cost in energy",
	Example: `  sprout plant basil-1 --plot kitchen --species basil --cost 5
  sprout plant basil-2 --plot kitchen --species basil --cost 5 --parent basil-1`,
	GroupID: "garden",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plot, _ := cmd.Flags().GetString("plot")
		species, _ := cmd.Flags().GetString("species")
		cost, _ := cmd.Flags().GetFloat64("cost")
		parent, _ := cmd.Flags().GetString("parent")
		name, _ := cmd.Flags().GetString("name")

		a := event.Plant{PlantID: args[0], PlotID: plot, Species: species, Cost: cost, ParentID: parent, Name: name}
		return record(cmd, a, fmt.Sprintf("Planted %s", args[0]))
	},
}

var waterCmd = &cobra.Command{
	Use:     "water <plant-id>",
	Short:   "Water a growing plant",
	GroupID: "garden",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return record(cmd, event.Water{PlantID: args[0]}, fmt.Sprintf("Watered %s", args[0]))
	},
}

var harvestCmd = &cobra.Command{
	Use:     "harvest <plant-id>",
	Short:   "Harvest a growing plant for energy",
	GroupID: "garden",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reward, _ := cmd.Flags().GetFloat64("reward")
		return record(cmd, event.Harvest{PlantID: args[0], Reward: reward}, fmt.Sprintf("Harvested %s", args[0]))
	},
}

var uprootCmd = &cobra.Command{
	Use:     "uproot <plant-id>",
	Aliases: []string{"rm"},
	Short:   "Uproot a growing plant, refunding part of its cost",
	GroupID: "garden",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return record(cmd, event.Uproot{PlantID: args[0]}, fmt.Sprintf("Uprooted %s", args[0]))
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <plant-id>",
	Short:   "Rename, annotate or move a plant",
	GroupID: "garden",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := event.Edit{PlantID: args[0]}
		for flag, dst := range map[string]**string{
			"name":   &a.Name,
			"note":   &a.Note,
			"plot":   &a.PlotID,
			"parent": &a.ParentID,
		} {
			if cmd.Flags().Changed(flag) {
				v, _ := cmd.Flags().GetString(flag)
				*dst = &v
			}
		}
		return record(cmd, a, fmt.Sprintf("Updated %s", args[0]))
	},
}

func init() {
	plantCmd.Flags().String("plot", "", "plot to plant in (required)")
	plantCmd.Flags().String("species", "", "species (required)")
	plantCmd.Flags().Float64("cost", 0, "energy cost")
	plantCmd.Flags().String("parent", "", "parent plant id")
	plantCmd.Flags().String("name", "", "display name")
	plantCmd.MarkFlagRequired("plot")
	plantCmd.MarkFlagRequired("species")

	harvestCmd.Flags().Float64("reward", 0, "energy gained")

	editCmd.Flags().String("name", "", "new display name")
	editCmd.Flags().String("note", "", "new note (markdown)")
	editCmd.Flags().String("plot", "", "move to plot")
	editCmd.Flags().String("parent", "", "new parent id, empty to detach")

	for _, c := range []*cobra.Command{plantCmd, waterCmd, harvestCmd, uprootCmd, editCmd} {
		addJSONFlag(c.Flags())
		rootCmd.AddCommand(c)
	}
}
