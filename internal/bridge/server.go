// Package bridge exposes the device cache and the content browser over
// local HTTP so browser-sandboxed clients (and the main app server) can
// reach UPnP devices they cannot talk to directly.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/audiobridge/upnpbridge/internal/browse"
	"github.com/audiobridge/upnpbridge/internal/registry"
	"github.com/audiobridge/upnpbridge/internal/upnp"
)

// DefaultPort is the bridge listen port when BRIDGE_PORT is unset.
const DefaultPort = 3847

const shutdownTimeout = 5 * time.Second

// proxyBodyLimit bounds proxied SOAP payloads.
const proxyBodyLimit = 1 << 20

// Searcher triggers and reports on SSDP discovery.
type Searcher interface {
	SearchNow()
	Healthy() bool
}

// Server is the bridge HTTP API.
type Server struct {
	addr     string
	log      *zap.Logger
	reg      *registry.Registry
	browser  *browse.Browser
	searcher Searcher
	soap     *upnp.SOAPClient
	proxy    *http.Client
}

// New creates a bridge server listening on addr.
func New(log *zap.Logger, addr string, reg *registry.Registry, browser *browse.Browser, searcher Searcher, soap *upnp.SOAPClient) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if soap == nil {
		soap = upnp.NewSOAPClient(log)
	}
	return &Server{
		addr:     addr,
		log:      log,
		reg:      reg,
		browser:  browser,
		searcher: searcher,
		soap:     soap,
		proxy:    &http.Client{Timeout: upnp.DefaultTimeout},
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.log.Info("bridge api listening", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the chi router. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/devices", s.handleDevices)
	r.Get("/renderers", s.handleRenderers)
	r.Get("/servers", s.handleServers)
	r.Get("/discover", s.handleDiscover)
	r.Post("/proxy", s.handleProxy)

	r.Get("/browse/{uuid}", s.handleBrowse)
	r.Get("/browse/{uuid}/{containerID}", s.handleBrowseContainer)

	r.Get("/renderers/{uuid}/volume", s.handleGetVolume)
	r.Post("/renderers/{uuid}/volume", s.handleSetVolume)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "unknown route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "unknown route")
	})
	return r
}

// corsMiddleware reflects the request Origin unconditionally. This is
// acceptable only because the bridge is a trusted-LAN tool and must
// never be internet-exposed; tighten this before any other deployment.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Target-URL, X-SOAP-Action")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
				)
				writeInternalError(w, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.reg.List()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleRenderers(w http.ResponseWriter, _ *http.Request) {
	devices := s.reg.Renderers()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	devices := s.reg.Servers()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleDiscover(w http.ResponseWriter, _ *http.Request) {
	listening := false
	if s.searcher != nil {
		s.searcher.SearchNow()
		listening = s.searcher.Healthy()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "searching",
		"listening": listening,
	})
}

// handleProxy forwards an arbitrary SOAP body to X-Target-URL and
// returns the upstream status and body verbatim. It exists solely
// because browser-sandboxed clients cannot issue cross-origin SOAP.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Target-URL")
	action := r.Header.Get("X-SOAP-Action")
	if target == "" || action == "" {
		writeBadRequest(w, "X-Target-URL and X-SOAP-Action headers are required")
		return
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		writeBadRequest(w, "X-Target-URL must be an absolute http(s) URL")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, proxyBodyLimit))
	if err != nil {
		writeBadRequest(w, "unreadable request body")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, strings.NewReader(string(body)))
	if err != nil {
		writeBadRequest(w, "invalid target url")
		return
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", action)

	resp, err := s.proxy.Do(req)
	if err != nil {
		s.log.Warn("proxy upstream failed", zap.String("target", target), zap.Error(err))
		writeBadGateway(w, fmt.Sprintf("upstream request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	upstream, err := io.ReadAll(resp.Body)
	if err != nil {
		writeBadGateway(w, "upstream body unreadable")
		return
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(upstream)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.reg.Get(chi.URLParam(r, "uuid"))
	if !ok {
		writeNotFound(w, "unknown device")
		return
	}
	result, err := s.browser.Browse(r.Context(), dev.Location, dev.ContentDirectoryURL)
	if err != nil {
		writeBadGateway(w, fmt.Sprintf("browse failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBrowseContainer(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.reg.Get(chi.URLParam(r, "uuid"))
	if !ok {
		writeNotFound(w, "unknown device")
		return
	}
	result, err := s.browser.BrowseContainer(r.Context(), dev.Location, dev.ContentDirectoryURL, chi.URLParam(r, "containerID"))
	if err != nil {
		writeBadGateway(w, fmt.Sprintf("browse failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.reg.Get(chi.URLParam(r, "uuid"))
	if !ok {
		writeNotFound(w, "unknown device")
		return
	}
	if dev.RenderingControlURL == "" {
		writeBadRequest(w, "device has no RenderingControl service")
		return
	}
	volume, err := s.soap.GetVolume(r.Context(), dev.RenderingControlURL)
	if err != nil {
		writeBadGateway(w, fmt.Sprintf("get volume failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uuid": dev.UUID, "volume": volume})
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.reg.Get(chi.URLParam(r, "uuid"))
	if !ok {
		writeNotFound(w, "unknown device")
		return
	}
	if dev.RenderingControlURL == "" {
		writeBadRequest(w, "device has no RenderingControl service")
		return
	}
	var body struct {
		Volume *int `json:"volume"`
	}
	if err := decodeJSONBody(r, &body); err != nil || body.Volume == nil {
		writeBadRequest(w, "body must be JSON with a volume field")
		return
	}
	if err := s.soap.SetVolume(r.Context(), dev.RenderingControlURL, *body.Volume); err != nil {
		writeBadGateway(w, fmt.Sprintf("set volume failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uuid": dev.UUID, "volume": *body.Volume})
}
