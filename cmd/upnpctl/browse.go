package main

import (
	"context"

	"github.com/spf13/cobra"
)

func browseCommand() *cobra.Command {
	var containerID string

	cmd := &cobra.Command{
		Use:   "browse <uuid>",
		Short: "Browse a media server's content directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.client.Browse(ctx, args[0], containerID)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().StringVar(&containerID, "container", "", "browse a specific container instead of the root")

	return cmd
}
