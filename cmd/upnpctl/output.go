package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/audiobridge/upnpbridge/internal/browse"
	"github.com/audiobridge/upnpbridge/internal/registry"
)

// printer renders command results to stdout.
type printer interface {
	Print(v any) error
}

type jsonPrinter struct{}

func (jsonPrinter) Print(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type humanPrinter struct{}

func (humanPrinter) Print(v any) error {
	switch value := v.(type) {
	case deviceList:
		return printDevices(value)
	case browse.Result:
		return printBrowseResult(value)
	case discoverReply:
		if value.Listening {
			pterm.Success.Println("search burst sent")
		} else {
			pterm.Warning.Println("search requested, but the SSDP listener is down")
		}
		return nil
	case volumeReply:
		pterm.Info.Printfln("%s volume: %d", value.UUID, value.Volume)
		return nil
	default:
		fmt.Println(v)
		return nil
	}
}

func printDevices(list deviceList) error {
	if list.Count == 0 {
		pterm.Info.Println("no devices in cache")
		return nil
	}
	rows := pterm.TableData{{"UUID", "Name", "Model", "Kind", "Last seen"}}
	for _, dev := range list.Devices {
		rows = append(rows, []string{
			dev.UUID,
			dev.FriendlyName,
			dev.ModelName,
			deviceKind(dev),
			dev.LastSeen.Format(time.TimeOnly),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func deviceKind(dev registry.Device) string {
	switch {
	case dev.IsRenderer() && dev.IsServer():
		return "renderer+server"
	case dev.IsRenderer():
		return "renderer"
	case dev.IsServer():
		return "server"
	default:
		return "unknown"
	}
}

func printBrowseResult(result browse.Result) error {
	pterm.Info.Printfln("%d artists, %d albums, %d tracks",
		len(result.Artists), len(result.Albums), len(result.Tracks))

	if len(result.Artists) > 0 {
		rows := pterm.TableData{{"ID", "Artist"}}
		for _, artist := range result.Artists {
			rows = append(rows, []string{artist.ID, artist.Name})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
	}
	if len(result.Albums) > 0 {
		rows := pterm.TableData{{"ID", "Album", "Artist"}}
		for _, album := range result.Albums {
			rows = append(rows, []string{album.ID, album.Name, album.Artist})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
	}
	if len(result.Tracks) > 0 {
		rows := pterm.TableData{{"ID", "Title", "Artist", "Album", "Length"}}
		for _, track := range result.Tracks {
			rows = append(rows, []string{
				track.ID,
				track.Title,
				track.Artist,
				track.Album,
				formatDuration(track.Duration),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}
	return nil
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
