package upnp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

const minidlnaDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>Study NAS</friendlyName>
    <manufacturer>Justin Maggard</manufacturer>
    <modelName>MiniDLNA</modelName>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
        <controlURL>/ctl/ContentDirectory</controlURL>
        <eventSubURL>/evt/ContentDirectory</eventSubURL>
        <SCPDURL>/ContentDir.xml</SCPDURL>
      </service>
    </serviceList>
  </device>
</root>`

const nestedRendererDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <URLBase>http://192.168.1.20:49152/</URLBase>
  <device>
    <deviceType>urn:schemas-upnp-org:device:Basic:1</deviceType>
    <friendlyName>Living Room Streamer</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>Streamer One</modelName>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
        <friendlyName>Living Room Streamer Renderer</friendlyName>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
            <controlURL>AVTransport/ctrl</controlURL>
          </service>
          <service>
            <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
            <controlURL>http://192.168.1.20:49153/RenderingControl/ctrl</controlURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

func TestParseDescriptionRelativeURLs(t *testing.T) {
	desc, err := ParseDescription([]byte(minidlnaDescription), "http://10.0.0.5:8200/rootDesc.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if desc.FriendlyName != "Study NAS" || desc.ModelName != "MiniDLNA" {
		t.Fatalf("unexpected identity: %+v", desc)
	}
	if desc.ContentDirectoryURL != "http://10.0.0.5:8200/ctl/ContentDirectory" {
		t.Fatalf("unexpected control url %q", desc.ContentDirectoryURL)
	}
	if len(desc.Services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(desc.Services))
	}
	if desc.Services[0].EventSubURL != "http://10.0.0.5:8200/evt/ContentDirectory" {
		t.Fatalf("unexpected event url %q", desc.Services[0].EventSubURL)
	}
}

func TestParseDescriptionURLBaseAndNestedDevices(t *testing.T) {
	desc, err := ParseDescription([]byte(nestedRendererDescription), "http://10.9.9.9:1400/desc.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// URLBase wins over the fetch location.
	if desc.AVTransportURL != "http://192.168.1.20:49152/AVTransport/ctrl" {
		t.Fatalf("unexpected avtransport url %q", desc.AVTransportURL)
	}
	// Absolute control URLs pass through untouched.
	if desc.RenderingControlURL != "http://192.168.1.20:49153/RenderingControl/ctrl" {
		t.Fatalf("unexpected renderingcontrol url %q", desc.RenderingControlURL)
	}
	if desc.ContentDirectoryURL != "" {
		t.Fatalf("renderer should have no content directory")
	}
	if len(desc.Services) != 2 {
		t.Fatalf("expected services from the embedded device, got %d", len(desc.Services))
	}
}

func TestResolveURL(t *testing.T) {
	cases := []struct {
		base string
		ref  string
		want string
	}{
		{"http://10.0.0.5:8200/rootDesc.xml", "/ctl/ContentDirectory", "http://10.0.0.5:8200/ctl/ContentDirectory"},
		{"http://10.0.0.5:8200/dev/rootDesc.xml", "ctl", "http://10.0.0.5:8200/dev/ctl"},
		{"http://10.0.0.5:8200/", "http://other:80/x", "http://other:80/x"},
		{"http://10.0.0.5:8200/", "", ""},
	}
	for _, tc := range cases {
		if got := ResolveURL(tc.base, tc.ref); got != tc.want {
			t.Fatalf("ResolveURL(%q, %q) = %q, want %q", tc.base, tc.ref, got, tc.want)
		}
	}
}

func TestFetchCachesSuccessOnly(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(minidlnaDescription))
	}))
	defer srv.Close()

	fetcher := NewDescriptionFetcher(zap.NewNop())
	ctx := context.Background()

	if _, err := fetcher.Fetch(ctx, srv.URL+"/rootDesc.xml"); err == nil {
		t.Fatalf("expected error on 503")
	}

	// The failure was not cached, so this fetch goes back to the device.
	desc, err := fetcher.Fetch(ctx, srv.URL+"/rootDesc.xml")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if desc.FriendlyName != "Study NAS" {
		t.Fatalf("unexpected device %q", desc.FriendlyName)
	}

	// Third fetch is served from cache.
	if _, err := fetcher.Fetch(ctx, srv.URL+"/rootDesc.xml"); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 upstream hits, got %d", hits)
	}
}
