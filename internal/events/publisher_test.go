package events

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/audiobridge/upnpbridge/internal/registry"
)

func TestNewRequiresBroker(t *testing.T) {
	reg := registry.New(nil, nil)
	if _, err := New(nil, reg, Options{}); err == nil {
		t.Fatalf("expected error without broker url")
	}
}

func TestNewBuffersRegistryEvents(t *testing.T) {
	reg := registry.New(nil, nil)
	pub, err := New(nil, reg, Options{BrokerURL: "mqtt://127.0.0.1:1883"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	reg.Upsert("dev-1", "http://10.0.0.5:8200/rootDesc.xml", "", "")

	select {
	case event := <-pub.events:
		if event.Type != registry.EventAdded || event.Device.UUID != "dev-1" {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("registry event not buffered")
	}
}

func TestEventBufferDropsWhenFull(t *testing.T) {
	reg := registry.New(nil, nil)
	pub, err := New(nil, reg, Options{BrokerURL: "mqtt://127.0.0.1:1883"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Fill past the buffer; discovery must never stall on a slow
	// publisher.
	for i := 0; i < 2*cap(pub.events); i++ {
		reg.Upsert(fmt.Sprintf("dev-%d", i), "http://10.0.0.5:8200/rootDesc.xml", "", "")
	}
	if len(pub.events) != cap(pub.events) {
		t.Fatalf("expected full buffer, got %d", len(pub.events))
	}
}

func TestDeviceTopic(t *testing.T) {
	if got := DeviceTopic("ABC-123"); got != "upnpbridge/device/ABC-123" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestDevicePayloadShape(t *testing.T) {
	payload, err := json.Marshal(devicePayload{
		Event:  registry.EventAdded,
		Device: registry.Device{UUID: "ABC-123"},
		TS:     1,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["event"] != "added" {
		t.Fatalf("unexpected payload: %s", payload)
	}
	device, ok := decoded["device"].(map[string]any)
	if !ok || device["uuid"] != "ABC-123" {
		t.Fatalf("unexpected device shape: %s", payload)
	}
}

func TestBuildTLSConfig(t *testing.T) {
	config, err := buildTLSConfig("", "", "")
	if err != nil || config != nil {
		t.Fatalf("expected nil config for no tls options")
	}
	if _, err := buildTLSConfig("", "/tmp/cert.pem", ""); err == nil {
		t.Fatalf("expected error for cert without key")
	}
}
