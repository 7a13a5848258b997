package main

import (
	"context"

	"github.com/spf13/cobra"
)

func discoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Trigger an SSDP search burst",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.client.Discover(ctx)
			if err != nil {
				return err
			}
			return app.printer.Print(reply)
		},
	}
}
