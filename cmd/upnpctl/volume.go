package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func volumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "volume <uuid> [level]",
		Short: "Get or set a renderer's volume",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if len(args) == 1 {
				reply, err := app.client.GetVolume(ctx, args[0])
				if err != nil {
					return err
				}
				return app.printer.Print(reply)
			}

			level, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("volume level must be an integer, got %q", args[1])
			}
			reply, err := app.client.SetVolume(ctx, args[0], level)
			if err != nil {
				return err
			}
			return app.printer.Print(reply)
		},
	}
}
