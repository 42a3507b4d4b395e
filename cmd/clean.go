package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Factoryleader/gdc-client/internal/output"
	"github.com/Factoryleader/gdc-client/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [DIR]",
		Short: "Remove partial downloads and resume state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			removed, err := utils.Clean(dir)
			if err != nil {
				return fmt.Errorf("error cleaning %s: %v", dir, err)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d temporary file(s)", len(removed)))
			return nil
		},
	}
}
