package cli

import (
	"github.com/spf13/cobra"
)

// addTagsFlag registers --tags/-t, the target filter shared by the
// commands that walk the fleet. A target matches when it carries any of
// the tags.
func addTagsFlag(cmd *cobra.Command, tags *[]string) {
	cmd.Flags().StringSliceVarP(tags, "tags", "t", nil, "only hosts carrying any of these tags (comma separated)")
}
