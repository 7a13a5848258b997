// Package ssdp owns the multicast socket: it sends periodic M-SEARCH
// bursts, parses inbound datagrams and feeds sightings into the device
// registry, enriching new devices from their description URL.
package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/audiobridge/upnpbridge/internal/registry"
	"github.com/audiobridge/upnpbridge/internal/upnp"
)

const (
	multicastAddr = "239.255.255.250:1900"
	readBufSize   = 8192

	// DefaultSearchInterval is the cadence of the M-SEARCH re-search.
	DefaultSearchInterval = 30 * time.Second
)

// searchTargets is sent as a burst, one M-SEARCH per target. Many
// consumer devices answer only their own ST and ignore ssdp:all.
var searchTargets = []string{
	"ssdp:all",
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"urn:schemas-upnp-org:device:MediaServer:1",
	"urn:schemas-upnp-org:service:AVTransport:1",
	"urn:schemas-upnp-org:service:ContentDirectory:1",
}

// Fetcher resolves a description URL into parsed device data.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (upnp.Description, error)
}

// Listener drives SSDP discovery into a registry.
type Listener struct {
	reg     *registry.Registry
	fetcher Fetcher
	log     *zap.Logger

	searchInterval time.Duration
	searchNow      chan struct{}

	mu       sync.Mutex
	conn     *net.UDPConn
	healthy  bool
	inflight map[string]bool
}

// New creates a listener. A zero searchInterval means the default.
func New(log *zap.Logger, reg *registry.Registry, fetcher Fetcher, searchInterval time.Duration) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	if searchInterval <= 0 {
		searchInterval = DefaultSearchInterval
	}
	return &Listener{
		reg:            reg,
		fetcher:        fetcher,
		log:            log,
		searchInterval: searchInterval,
		searchNow:      make(chan struct{}, 1),
		inflight:       make(map[string]bool),
	}
}

// SearchNow requests an immediate M-SEARCH burst. It never blocks; a
// burst already pending is burst enough.
func (l *Listener) SearchNow() {
	select {
	case l.searchNow <- struct{}{}:
	default:
	}
}

// Healthy reports whether the multicast socket is up.
func (l *Listener) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.healthy
}

// Run binds the socket and serves until ctx is done. A bind or
// multicast-join failure is fatal to discovery only: it is logged and
// Run parks until shutdown so the daemon keeps serving the empty cache.
func (l *Listener) Run(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return fmt.Errorf("resolve multicast group: %w", err)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		l.log.Error("ssdp socket unavailable, discovery disabled", zap.Error(err))
		<-ctx.Done()
		return nil
	}
	_ = conn.SetReadBuffer(readBufSize)

	l.mu.Lock()
	l.conn = conn
	l.healthy = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.healthy = false
		l.mu.Unlock()
		conn.Close()
	}()

	go l.readLoop(ctx, conn)

	l.log.Info("ssdp listener started",
		zap.String("group", multicastAddr),
		zap.Duration("search_interval", l.searchInterval),
	)

	l.sendSearchBurst(conn, group)
	ticker := time.NewTicker(l.searchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.sendSearchBurst(conn, group)
		case <-l.searchNow:
			l.sendSearchBurst(conn, group)
		}
	}
}

func (l *Listener) sendSearchBurst(conn *net.UDPConn, group *net.UDPAddr) {
	for _, st := range searchTargets {
		msg := "M-SEARCH * HTTP/1.1\r\n" +
			"HOST: " + multicastAddr + "\r\n" +
			"MAN: \"ssdp:discover\"\r\n" +
			"MX: 2\r\n" +
			"ST: " + st + "\r\n" +
			"\r\n"
		if _, err := conn.WriteToUDP([]byte(msg), group); err != nil {
			l.log.Warn("m-search send failed", zap.String("st", st), zap.Error(err))
			return
		}
	}
	l.log.Debug("m-search burst sent", zap.Int("targets", len(searchTargets)))
}

func (l *Listener) readLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, readBufSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Debug("ssdp read failed", zap.Error(err))
			continue
		}
		l.handleDatagram(ctx, buf[:n], src)
	}
}

// handleDatagram processes one datagram. Anything that goes wrong is
// contained to this device; the listener never stops over a bad packet.
func (l *Listener) handleDatagram(ctx context.Context, datagram []byte, src *net.UDPAddr) {
	msg, err := ParseMessage(datagram)
	if err != nil {
		if !errors.Is(err, errSearchEcho) {
			l.log.Debug("unparsable ssdp datagram", zap.String("from", src.String()), zap.Error(err))
		}
		return
	}

	key := DeviceKey(msg.USN, src.String())
	dev, isNew := l.reg.Upsert(key, msg.Location, msg.Server, msg.SearchTarget)
	if isNew || !dev.Enriched() {
		l.enrichAsync(ctx, key, msg.Location)
	}
}

// enrichAsync fetches and merges the device description off the read
// loop. At most one fetch per device runs at a time; a failed fetch is
// simply retried on the next sighting.
func (l *Listener) enrichAsync(ctx context.Context, key string, location string) {
	if l.fetcher == nil {
		return
	}
	l.mu.Lock()
	if l.inflight[key] {
		l.mu.Unlock()
		return
	}
	l.inflight[key] = true
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.inflight, key)
			l.mu.Unlock()
		}()

		fetchCtx, cancel := context.WithTimeout(ctx, upnp.DefaultTimeout)
		defer cancel()
		desc, err := l.fetcher.Fetch(fetchCtx, location)
		if err != nil {
			l.log.Debug("description fetch failed",
				zap.String("uuid", key),
				zap.String("location", location),
				zap.Error(err),
			)
			return
		}
		l.reg.ApplyDescription(key, desc)
	}()
}
