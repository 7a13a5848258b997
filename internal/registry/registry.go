// Package registry holds the in-memory cache of discovered devices. It
// is the only shared mutable state in the bridge: the SSDP listener and
// enrichment goroutines write into it, the HTTP API and event publisher
// read from it. Updates are field-level merges so concurrent enrichment
// completions for the same device cannot clobber each other.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/audiobridge/upnpbridge/internal/upnp"
)

const (
	// DeviceTTL is how long a device survives without an SSDP sighting.
	DeviceTTL = 5 * time.Minute
	// SweepInterval is the cadence of the expiry sweep.
	SweepInterval = 60 * time.Second
)

// Device is a discovered UPnP device as served by the bridge API.
type Device struct {
	UUID                string         `json:"uuid"`
	Location            string         `json:"location"`
	Server              string         `json:"server,omitempty"`
	SearchTarget        string         `json:"searchTarget,omitempty"`
	FriendlyName        string         `json:"friendlyName,omitempty"`
	Manufacturer        string         `json:"manufacturer,omitempty"`
	ModelName           string         `json:"modelName,omitempty"`
	Services            []upnp.Service `json:"services,omitempty"`
	AVTransportURL      string         `json:"avTransportUrl,omitempty"`
	ContentDirectoryURL string         `json:"contentDirectoryUrl,omitempty"`
	RenderingControlURL string         `json:"renderingControlUrl,omitempty"`
	LastSeen            time.Time      `json:"lastSeen"`
}

// Enriched reports whether any derived control URL has been resolved.
// A device that advertises none of the three services stays unenriched
// and keeps being retried; that is cheaper than remembering which
// fetches already came back empty.
func (d Device) Enriched() bool {
	return d.AVTransportURL != "" || d.ContentDirectoryURL != "" || d.RenderingControlURL != ""
}

// IsRenderer reports whether the device looks like a media renderer.
func (d Device) IsRenderer() bool {
	return d.AVTransportURL != "" || strings.Contains(d.SearchTarget, "MediaRenderer")
}

// IsServer reports whether the device looks like a media server.
func (d Device) IsServer() bool {
	return d.ContentDirectoryURL != "" || strings.Contains(d.SearchTarget, "MediaServer")
}

// EventType classifies registry change notifications.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventExpired EventType = "expired"
)

// Event is a registry change notification.
type Event struct {
	Type   EventType
	Device Device
}

// Registry is the uuid-keyed device cache.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	clock Clock
	log   *zap.Logger

	subMu       sync.RWMutex
	subscribers []func(Event)
}

// New creates an empty registry. A nil clock means the wall clock.
func New(log *zap.Logger, clock Clock) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		devices: make(map[string]*Device),
		clock:   clock,
		log:     log,
	}
}

// Subscribe registers a callback for registry change events. Callbacks
// run synchronously after the registry lock is released.
func (r *Registry) Subscribe(fn func(Event)) {
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.subMu.Unlock()
}

func (r *Registry) notify(event Event) {
	r.subMu.RLock()
	subs := make([]func(Event), len(r.subscribers))
	copy(subs, r.subscribers)
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(event)
	}
}

// Upsert records an SSDP sighting. A new uuid inserts a stub; a known
// one only refreshes lastSeen and fills raw headers that were missing.
// It returns the device snapshot and whether the uuid was unseen.
func (r *Registry) Upsert(uuid string, location string, server string, searchTarget string) (Device, bool) {
	now := r.clock.Now()

	r.mu.Lock()
	dev, ok := r.devices[uuid]
	if !ok {
		dev = &Device{
			UUID:         uuid,
			Location:     location,
			Server:       server,
			SearchTarget: searchTarget,
			LastSeen:     now,
		}
		r.devices[uuid] = dev
		snapshot := *dev
		r.mu.Unlock()
		r.log.Debug("device discovered",
			zap.String("uuid", uuid),
			zap.String("location", location),
			zap.String("st", searchTarget),
		)
		r.notify(Event{Type: EventAdded, Device: snapshot})
		return snapshot, true
	}

	dev.LastSeen = now
	if dev.Location == "" {
		dev.Location = location
	}
	if dev.Server == "" {
		dev.Server = server
	}
	if dev.SearchTarget == "" {
		dev.SearchTarget = searchTarget
	}
	snapshot := *dev
	r.mu.Unlock()
	return snapshot, false
}

// ApplyDescription merges fetched description data into a device.
// Every field fills only if empty: derived URLs are set exactly once
// and never cleared, so a later partial fetch cannot erase an earlier
// complete one.
func (r *Registry) ApplyDescription(uuid string, desc upnp.Description) (Device, bool) {
	r.mu.Lock()
	dev, ok := r.devices[uuid]
	if !ok {
		r.mu.Unlock()
		return Device{}, false
	}
	changed := false
	if dev.FriendlyName == "" && desc.FriendlyName != "" {
		dev.FriendlyName = desc.FriendlyName
		changed = true
	}
	if dev.Manufacturer == "" && desc.Manufacturer != "" {
		dev.Manufacturer = desc.Manufacturer
		changed = true
	}
	if dev.ModelName == "" && desc.ModelName != "" {
		dev.ModelName = desc.ModelName
		changed = true
	}
	if len(dev.Services) == 0 && len(desc.Services) > 0 {
		dev.Services = append([]upnp.Service(nil), desc.Services...)
		changed = true
	}
	if dev.AVTransportURL == "" && desc.AVTransportURL != "" {
		dev.AVTransportURL = desc.AVTransportURL
		changed = true
	}
	if dev.ContentDirectoryURL == "" && desc.ContentDirectoryURL != "" {
		dev.ContentDirectoryURL = desc.ContentDirectoryURL
		changed = true
	}
	if dev.RenderingControlURL == "" && desc.RenderingControlURL != "" {
		dev.RenderingControlURL = desc.RenderingControlURL
		changed = true
	}
	snapshot := *dev
	r.mu.Unlock()

	if changed {
		r.log.Debug("device enriched",
			zap.String("uuid", uuid),
			zap.String("name", snapshot.FriendlyName),
			zap.Int("services", len(snapshot.Services)),
		)
		r.notify(Event{Type: EventUpdated, Device: snapshot})
	}
	return snapshot, true
}

// Get returns a device snapshot by uuid.
func (r *Registry) Get(uuid string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[uuid]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

// List returns all devices sorted by friendly name then uuid.
func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, *dev)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FriendlyName != out[j].FriendlyName {
			return out[i].FriendlyName < out[j].FriendlyName
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}

// Renderers returns devices that look like media renderers.
func (r *Registry) Renderers() []Device {
	return r.filter(Device.IsRenderer)
}

// Servers returns devices that look like media servers.
func (r *Registry) Servers() []Device {
	return r.filter(Device.IsServer)
}

func (r *Registry) filter(keep func(Device) bool) []Device {
	all := r.List()
	out := make([]Device, 0, len(all))
	for _, dev := range all {
		if keep(dev) {
			out = append(out, dev)
		}
	}
	return out
}

// Sweep evicts devices unseen for longer than DeviceTTL and returns
// the evicted snapshots.
func (r *Registry) Sweep() []Device {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []Device
	for uuid, dev := range r.devices {
		if now.Sub(dev.LastSeen) > DeviceTTL {
			expired = append(expired, *dev)
			delete(r.devices, uuid)
		}
	}
	r.mu.Unlock()

	for _, dev := range expired {
		r.log.Info("device expired",
			zap.String("uuid", dev.UUID),
			zap.String("name", dev.FriendlyName),
			zap.Time("last_seen", dev.LastSeen),
		)
		r.notify(Event{Type: EventExpired, Device: dev})
	}
	return expired
}

// Run sweeps on SweepInterval until ctx is done. The sweep and the
// discovery re-search run on independent cadences, so a silent device
// can linger a few intervals past its TTL.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}
