package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/sprout/internal/output"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write every event to a file (or stdout)",
	Long: `Write every event to a versioned JSON document. The document holds
events only; the garden is rebuilt from them on import.`,
	GroupID: "system",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, _, err := openGarden()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer g.Close()

		var w io.Writer = os.Stdout
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Create(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			defer f.Close()
			w = f
		}
		if err := g.Export(w, passphrase(cmd)); err != nil {
			output.Error("%v", err)
			return err
		}
		if w != os.Stdout {
			fmt.Fprintf(os.Stderr, "Exported %d events to %s\n", len(g.Events()), args[0])
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	Short:   "Add the events of an export file to this garden",
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, cfg, err := openGarden()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer g.Close()

		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			defer f.Close()
			r = f
		}

		res, err := g.Import(r, passphrase(cmd))
		if err != nil {
			output.Error("import: %v", err)
			return err
		}
		reportWarning(g)
		autoSync(cmd.Context(), g, cfg)

		if jsonFlag(cmd) {
			return output.JSON(res)
		}
		output.Success("Imported %d new events (%d already present)", res.Added, res.Read-res.Added)
		if res.Dropped > 0 {
			output.Warning("%d entries were not events and were skipped", res.Dropped)
		}
		return nil
	},
}

// passphrase returns --passphrase, else $SPROUT_EXPORT_PASSPHRASE.
func passphrase(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("passphrase"); p != "" {
		return p
	}
	return os.Getenv("SPROUT_EXPORT_PASSPHRASE")
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().String("passphrase", "", "seal or open the file with a passphrase (env SPROUT_EXPORT_PASSPHRASE)")
	}
	addJSONFlag(importCmd.Flags())
	rootCmd.AddCommand(exportCmd, importCmd)
}
