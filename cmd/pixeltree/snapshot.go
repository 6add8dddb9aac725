package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pixeltree/internal/errors"
	"github.com/vango-dev/pixeltree/pkg/canvas"
	"github.com/vango-dev/pixeltree/pkg/persist"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with grid snapshots",
	}
	cmd.AddCommand(snapshotInspectCmd())
	return cmd
}

func snapshotInspectCmd() *cobra.Command {
	var background string

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe a snapshot file",
		Long: `Decode a snapshot and print its format, dimensions, save time and
the number of pixels that differ from the background.

Examples:
  pixeltree snapshot inspect data/grid.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bg, err := canvas.ParseColor(background)
			if err != nil {
				return errors.New("P400").WithDetail(err.Error())
			}
			return inspectSnapshot(cmd, args[0], bg)
		},
	}

	cmd.Flags().StringVar(&background, "background", canvas.DefaultBackground.String(), "Background color to compare against")

	return cmd
}

func inspectSnapshot(cmd *cobra.Command, path string, bg canvas.Color) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New("P200").WithDetail(path).Wrap(err)
	}
	snap, err := persist.DecodeSnapshot(data)
	if err != nil {
		if stderrors.Is(err, persist.ErrCorrupt) {
			return errors.New("P201").Wrap(err)
		}
		return errors.New("P200").Wrap(err)
	}

	painted := 0
	for _, c := range snap.Pixels {
		if c != bg {
			painted++
		}
	}

	out := cmd.OutOrStdout()
	if snap.Legacy {
		fmt.Fprintf(out, "  Format:     legacy pixel array\n")
		fmt.Fprintf(out, "  Pixels:     %d\n", len(snap.Pixels))
	} else {
		fmt.Fprintf(out, "  Format:     %s v%d\n", snap.Format, snap.Version)
		fmt.Fprintf(out, "  Grid:       %dx%d (%d pixels)\n", snap.Width, snap.Height, len(snap.Pixels))
		fmt.Fprintf(out, "  Saved:      %s\n", snap.SavedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "  Painted:    %d\n", painted)
	return nil
}
