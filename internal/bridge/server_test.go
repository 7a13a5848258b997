package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/audiobridge/upnpbridge/internal/browse"
	"github.com/audiobridge/upnpbridge/internal/registry"
	"github.com/audiobridge/upnpbridge/internal/upnp"
)

type fakeSearcher struct {
	searches int
	healthy  bool
}

func (f *fakeSearcher) SearchNow()    { f.searches++ }
func (f *fakeSearcher) Healthy() bool { return f.healthy }

func newTestServer(reg *registry.Registry, searcher Searcher) *Server {
	if reg == nil {
		reg = registry.New(nil, nil)
	}
	return New(nil, ":0", reg, browse.New(nil, nil, nil), searcher, nil)
}

func seedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(nil, nil)
	reg.Upsert("server-1", "http://10.0.0.5:8200/rootDesc.xml", "MiniDLNA", "urn:schemas-upnp-org:device:MediaServer:1")
	reg.ApplyDescription("server-1", upnp.Description{
		FriendlyName:        "Study NAS",
		ContentDirectoryURL: "http://10.0.0.5:8200/ctl/ContentDirectory",
	})
	reg.Upsert("renderer-1", "http://192.168.1.20:49152/desc.xml", "", "urn:schemas-upnp-org:device:MediaRenderer:1")
	reg.ApplyDescription("renderer-1", upnp.Description{
		FriendlyName:   "Living Room",
		AVTransportURL: "http://192.168.1.20:49152/AVTransport/ctrl",
	})
	return reg
}

func doRequest(t *testing.T, handler http.Handler, method string, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body not json: %v: %s", err, rec.Body.String())
	}
	return e
}

func TestDeviceListEndpoints(t *testing.T) {
	router := newTestServer(seedRegistry(t), nil).Router()

	cases := []struct {
		path  string
		count int
		uuid  string
	}{
		{"/devices", 2, ""},
		{"/renderers", 1, "renderer-1"},
		{"/servers", 1, "server-1"},
	}
	for _, tc := range cases {
		rec := doRequest(t, router, http.MethodGet, tc.path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.path, rec.Code)
		}
		var body struct {
			Devices []registry.Device `json:"devices"`
			Count   int               `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		if body.Count != tc.count || len(body.Devices) != tc.count {
			t.Fatalf("%s: expected %d devices, got %+v", tc.path, tc.count, body)
		}
		if tc.uuid != "" && body.Devices[0].UUID != tc.uuid {
			t.Fatalf("%s: expected %s, got %s", tc.path, tc.uuid, body.Devices[0].UUID)
		}
	}
}

func TestDiscoverTriggersSearch(t *testing.T) {
	searcher := &fakeSearcher{healthy: true}
	router := newTestServer(nil, searcher).Router()

	rec := doRequest(t, router, http.MethodGet, "/discover", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if searcher.searches != 1 {
		t.Fatalf("expected one search, got %d", searcher.searches)
	}
	var body struct {
		Status    string `json:"status"`
		Listening bool   `json:"listening"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "searching" || !body.Listening {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCORSReflectsOrigin(t *testing.T) {
	router := newTestServer(nil, nil).Router()

	rec := doRequest(t, router, http.MethodGet, "/devices", "", map[string]string{
		"Origin": "http://app.local:5173",
	})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://app.local:5173" {
		t.Fatalf("origin not reflected: %q", got)
	}

	rec = doRequest(t, router, http.MethodOptions, "/proxy", "", map[string]string{
		"Origin": "http://app.local:5173",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-SOAP-Action") {
		t.Fatalf("preflight headers missing: %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestUnknownRouteJSON404(t *testing.T) {
	router := newTestServer(nil, nil).Router()

	rec := doRequest(t, router, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "not_found" || e.Message != "unknown route" {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestProxyRequiresHeaders(t *testing.T) {
	router := newTestServer(nil, nil).Router()

	rec := doRequest(t, router, http.MethodPost, "/proxy", "<xml/>", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "bad_request" {
		t.Fatalf("unexpected error: %+v", e)
	}

	rec = doRequest(t, router, http.MethodPost, "/proxy", "<xml/>", map[string]string{
		"X-Target-URL":  "ftp://nope",
		"X-SOAP-Action": `"urn:x#Do"`,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-http target: status %d", rec.Code)
	}
}

func TestProxyPassesThroughVerbatim(t *testing.T) {
	var gotAction string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPACTION")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<fault/>"))
	}))
	defer upstream.Close()

	router := newTestServer(nil, nil).Router()
	rec := doRequest(t, router, http.MethodPost, "/proxy", "<envelope/>", map[string]string{
		"X-Target-URL":  upstream.URL,
		"X-SOAP-Action": `"urn:x#Do"`,
	})

	// Upstream status and body come back untouched, even errors.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Body.String() != "<fault/>" {
		t.Fatalf("body not verbatim: %q", rec.Body.String())
	}
	if gotAction != `"urn:x#Do"` || string(gotBody) != "<envelope/>" {
		t.Fatalf("upstream request mangled: %q %q", gotAction, gotBody)
	}
}

func TestProxyUpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close()

	router := newTestServer(nil, nil).Router()
	rec := doRequest(t, router, http.MethodPost, "/proxy", "<envelope/>", map[string]string{
		"X-Target-URL":  upstream.URL,
		"X-SOAP-Action": `"urn:x#Do"`,
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "upstream_failed" {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestBrowseUnknownDevice(t *testing.T) {
	router := newTestServer(seedRegistry(t), nil).Router()

	rec := doRequest(t, router, http.MethodGet, "/browse/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Message != "unknown device" {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestBrowseUpstreamFailure(t *testing.T) {
	// The seeded server location points nowhere reachable from tests.
	reg := registry.New(nil, nil)
	reg.Upsert("server-1", "http://127.0.0.1:1/rootDesc.xml", "", "urn:schemas-upnp-org:device:MediaServer:1")

	router := newTestServer(reg, nil).Router()
	rec := doRequest(t, router, http.MethodGet, "/browse/server-1", "", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "upstream_failed" {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestVolumeRequiresRenderingControl(t *testing.T) {
	router := newTestServer(seedRegistry(t), nil).Router()

	// renderer-1 has AVTransport but no RenderingControl.
	rec := doRequest(t, router, http.MethodGet, "/renderers/renderer-1/volume", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/renderers/renderer-1/volume", `{"volume":30}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSetVolumeValidatesBody(t *testing.T) {
	reg := seedRegistry(t)
	reg.Upsert("r2", "http://192.168.1.30:49152/desc.xml", "", "")
	reg.ApplyDescription("r2", upnp.Description{
		RenderingControlURL: "http://192.168.1.30:49152/RenderingControl/ctrl",
	})
	router := newTestServer(reg, nil).Router()

	for _, body := range []string{"", "not json", `{"volume":null}`, `{"level":5}`} {
		rec := doRequest(t, router, http.MethodPost, "/renderers/r2/volume", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status %d", body, rec.Code)
		}
	}
}

func TestVolumeRoundTrip(t *testing.T) {
	rendering := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:GetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1">
      <CurrentVolume>37</CurrentVolume>
    </u:GetVolumeResponse>
  </s:Body>
</s:Envelope>`))
	}))
	defer rendering.Close()

	reg := registry.New(nil, nil)
	reg.Upsert("r1", "http://192.168.1.20:49152/desc.xml", "", "")
	reg.ApplyDescription("r1", upnp.Description{RenderingControlURL: rendering.URL})
	router := newTestServer(reg, nil).Router()

	rec := doRequest(t, router, http.MethodGet, "/renderers/r1/volume", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get volume status %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		UUID   string `json:"uuid"`
		Volume int    `json:"volume"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UUID != "r1" || got.Volume != 37 {
		t.Fatalf("unexpected reply: %+v", got)
	}

	rec = doRequest(t, router, http.MethodPost, "/renderers/r1/volume", `{"volume":55}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set volume status %d: %s", rec.Code, rec.Body.String())
	}
}
