package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marcus/sprout/internal/event"
	"github.com/marcus/sprout/internal/output"
)

var expandCmd = &cobra.Command{
	Use:     "expand <amount>",
	Short:   "Raise energy capacity (limited per week)",
	GroupID: "energy",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil || amount <= 0 {
			err = fmt.Errorf("amount must be a positive number: %q", args[0])
			output.Error("%v", err)
			return err
		}
		return record(cmd, event.Expand{Amount: amount}, fmt.Sprintf("Expanded capacity by %s", output.FormatAmount(amount)))
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set energy capacity directly, possibly lowering it",
	Long: `Set energy capacity directly. Unlike expand this may lower capacity and
is not limited per week. Capacity is still bounded by the garden maximum.`,
	GroupID: "energy",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		capacity, _ := cmd.Flags().GetFloat64("capacity")
		a := event.Reset{Capacity: capacity}
		if cmd.Flags().Changed("available") {
			v, _ := cmd.Flags().GetFloat64("available")
			a.Available = &v
		}
		return record(cmd, a, fmt.Sprintf("Reset capacity to %s", output.FormatAmount(capacity)))
	},
}

func init() {
	resetCmd.Flags().Float64("capacity", 0, "new capacity (required)")
	resetCmd.Flags().Float64("available", 0, "new available energy")
	resetCmd.MarkFlagRequired("capacity")

	for _, c := range []*cobra.Command{expandCmd, resetCmd} {
		addJSONFlag(c.Flags())
		rootCmd.AddCommand(c)
	}
}
