package main

import (
	"context"

	"github.com/spf13/cobra"
)

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List cached devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd, "/devices")
		},
	}
}

func renderersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "renderers",
		Short: "List cached media renderers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd, "/renderers")
		},
	}
}

func serversCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List cached media servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd, "/servers")
		},
	}
}

func listDevices(cmd *cobra.Command, path string) error {
	app := fromContext(cmd)
	ctx, cancel := withTimeout(context.Background(), app.timeout)
	defer cancel()

	list, err := app.client.Devices(ctx, path)
	if err != nil {
		return err
	}
	return app.printer.Print(list)
}
