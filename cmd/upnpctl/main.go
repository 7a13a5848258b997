package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type app struct {
	client  *bridgeClient
	printer printer
	timeout time.Duration
}

type contextKey struct{}

func main() {
	root := &cobra.Command{
		Use:           "upnpctl",
		Short:         "UPnP bridge CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		bridgeURL string
		timeout   time.Duration
		jsonOut   bool
	)

	root.PersistentFlags().StringVarP(&bridgeURL, "bridge", "b", "http://127.0.0.1:3847", "bridge API base URL")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")

	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		a := &app{
			client:  newBridgeClient(bridgeURL, timeout),
			timeout: timeout,
		}
		if jsonOut {
			a.printer = jsonPrinter{}
		} else {
			a.printer = humanPrinter{}
		}
		cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, a))
	}

	root.AddCommand(
		devicesCommand(),
		renderersCommand(),
		serversCommand(),
		discoverCommand(),
		browseCommand(),
		volumeCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func fromContext(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(contextKey{}).(*app)
	return a
}

func withTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
