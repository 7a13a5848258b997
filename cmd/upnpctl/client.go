package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/audiobridge/upnpbridge/internal/browse"
	"github.com/audiobridge/upnpbridge/internal/registry"
)

// bridgeClient talks to the daemon's HTTP API.
type bridgeClient struct {
	base string
	http *http.Client
}

// deviceList mirrors the bridge's device collection responses.
type deviceList struct {
	Devices []registry.Device `json:"devices"`
	Count   int               `json:"count"`
}

type discoverReply struct {
	Status    string `json:"status"`
	Listening bool   `json:"listening"`
}

type volumeReply struct {
	UUID   string `json:"uuid"`
	Volume int    `json:"volume"`
}

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newBridgeClient(base string, timeout time.Duration) *bridgeClient {
	return &bridgeClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *bridgeClient) Devices(ctx context.Context, path string) (deviceList, error) {
	var out deviceList
	err := c.get(ctx, path, &out)
	return out, err
}

func (c *bridgeClient) Discover(ctx context.Context) (discoverReply, error) {
	var out discoverReply
	err := c.get(ctx, "/discover", &out)
	return out, err
}

func (c *bridgeClient) Browse(ctx context.Context, uuid string, containerID string) (browse.Result, error) {
	path := "/browse/" + uuid
	if containerID != "" {
		path += "/" + containerID
	}
	var out browse.Result
	err := c.get(ctx, path, &out)
	return out, err
}

func (c *bridgeClient) GetVolume(ctx context.Context, uuid string) (volumeReply, error) {
	var out volumeReply
	err := c.get(ctx, "/renderers/"+uuid+"/volume", &out)
	return out, err
}

func (c *bridgeClient) SetVolume(ctx context.Context, uuid string, volume int) (volumeReply, error) {
	body := fmt.Sprintf(`{"volume":%d}`, volume)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/renderers/"+uuid+"/volume", strings.NewReader(body))
	if err != nil {
		return volumeReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out volumeReply
	err = c.do(req, &out)
	return out, err
}

func (c *bridgeClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *bridgeClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("bridge: %s (%d)", apiErr.Message, apiErr.Status)
		}
		return fmt.Errorf("bridge: http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
