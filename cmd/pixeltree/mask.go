package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pixeltree/internal/config"
	"github.com/vango-dev/pixeltree/internal/errors"
	"github.com/vango-dev/pixeltree/pkg/canvas"
)

func maskCmd() *cobra.Command {
	var width, height int

	cmd := &cobra.Command{
		Use:   "mask",
		Short: "Print the tree mask as ASCII",
		Long: `Print the paintable region of a grid. '#' marks cells inside the
tree, '.' cells outside it.

Examples:
  pixeltree mask
  pixeltree mask --width 40 --height 60`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if width <= 0 || height <= 0 {
				return errors.New("P400").
					WithDetail(fmt.Sprintf("--width and --height must be positive (got %dx%d)", width, height))
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			mask := canvas.TreeMask(width, height)
			paintable := 0
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					if mask[y*width+x] {
						paintable++
						w.WriteByte('#')
					} else {
						w.WriteByte('.')
					}
				}
				w.WriteByte('\n')
			}
			fmt.Fprintf(w, "%d of %d cells paintable\n", paintable, len(mask))
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&width, "width", config.DefaultWidth, "Grid width")
	cmd.Flags().IntVar(&height, "height", config.DefaultHeight, "Grid height")

	return cmd
}
