// Package browse walks a media server's content tree over
// ContentDirectory Browse. The protocol does not standardize the control
// endpoint path, so the browser probes an ordered candidate list and
// takes the first endpoint that answers, then falls back to sweeping
// well-known container IDs when the root listing is empty.
package browse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/audiobridge/upnpbridge/internal/upnp"
)

// DefaultCandidatePaths is the ordered list of control paths tried when
// a device's description did not yield a ContentDirectory URL. Tuned by
// compatibility, not protocol: MiniDLNA-style paths first.
var DefaultCandidatePaths = []string{
	"/dev/srv0/ctl/ContentDirectory",
	"/ctl/ContentDirectory",
	"/ContentDirectory/control",
	"/upnp/control/content_dir",
	"/MediaServer/ContentDirectory/Control",
}

// fallbackContainerIDs are swept when the root browse comes back empty.
// Plenty of servers hide content in unlabeled numeric containers.
var fallbackContainerIDs = []string{
	"0", "1", "2", "3", "64", "65", "Music", "Artists", "Albums",
}

// ErrBrowseFailed means every candidate endpoint and the presence probe
// failed: the device is unreachable or not a browsable server.
var ErrBrowseFailed = errors.New("browse: no endpoint answered")

// Artist is an artist-like container from the content tree.
type Artist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AlbumCount int    `json:"albumCount,omitempty"`
}

// Album is an album container.
type Album struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	ArtistID   string `json:"artistId"`
	Year       int    `json:"year,omitempty"`
	TrackCount int    `json:"trackCount,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// Track is a playable item.
type Track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Duration    int    `json:"duration"`
	TrackNumber int    `json:"trackNumber,omitempty"`
	AlbumArt    string `json:"albumArt,omitempty"`
	StreamURL   string `json:"streamUrl,omitempty"`
}

// Result is one browse outcome. It is produced per request and never
// cached; IDs are the device's own ObjectIDs and mean nothing outside
// this device and session.
type Result struct {
	Artists []Artist `json:"artists"`
	Albums  []Album  `json:"albums"`
	Tracks  []Track  `json:"tracks"`
}

func (r *Result) empty() bool {
	return len(r.Artists) == 0 && len(r.Albums) == 0 && len(r.Tracks) == 0
}

// Browser drives ContentDirectory browsing through a SOAP client.
type Browser struct {
	soap           *upnp.SOAPClient
	http           *http.Client
	log            *zap.Logger
	candidatePaths []string
}

// New creates a browser. Empty candidatePaths means the default list.
func New(log *zap.Logger, soap *upnp.SOAPClient, candidatePaths []string) *Browser {
	if log == nil {
		log = zap.NewNop()
	}
	if soap == nil {
		soap = upnp.NewSOAPClient(log)
	}
	if len(candidatePaths) == 0 {
		candidatePaths = DefaultCandidatePaths
	}
	return &Browser{
		soap:           soap,
		http:           &http.Client{Timeout: upnp.DefaultTimeout},
		log:            log,
		candidatePaths: candidatePaths,
	}
}

// Browse walks the content tree of the device at location. controlURL,
// when known from the device description, is tried before the candidate
// paths. An empty Result with a nil error means the device answered but
// exposed nothing browsable.
func (b *Browser) Browse(ctx context.Context, location string, controlURL string) (Result, error) {
	endpoint, doc, err := b.findEndpoint(ctx, location, controlURL)
	if err != nil {
		return Result{}, err
	}

	result := Result{Artists: []Artist{}, Albums: []Album{}, Tracks: []Track{}}
	b.collect(doc, location, &result)

	if result.empty() {
		b.log.Debug("root browse empty, sweeping common containers", zap.String("endpoint", endpoint))
		b.sweepContainers(ctx, endpoint, location, &result)
	}

	b.log.Info("browse complete",
		zap.String("endpoint", endpoint),
		zap.Int("artists", len(result.Artists)),
		zap.Int("albums", len(result.Albums)),
		zap.Int("tracks", len(result.Tracks)),
	)
	return result, nil
}

// BrowseContainer lists one container's direct children.
func (b *Browser) BrowseContainer(ctx context.Context, location string, controlURL string, containerID string) (Result, error) {
	endpoint, _, err := b.findEndpoint(ctx, location, controlURL)
	if err != nil {
		return Result{}, err
	}
	doc, err := b.browseObject(ctx, endpoint, containerID)
	if err != nil {
		return Result{}, fmt.Errorf("browse container %q: %w", containerID, err)
	}
	result := Result{Artists: []Artist{}, Albums: []Album{}, Tracks: []Track{}}
	b.collect(doc, location, &result)
	return result, nil
}

// findEndpoint probes candidates in order and returns the first control
// URL whose root browse answered 2xx, along with that root document.
// Wrong paths fail fast on most devices, so sequential probing costs
// little and keeps the ordering preference exact.
func (b *Browser) findEndpoint(ctx context.Context, location string, controlURL string) (string, upnp.DIDLDocument, error) {
	for _, endpoint := range b.candidateURLs(location, controlURL) {
		doc, err := b.browseObject(ctx, endpoint, "0")
		if err != nil {
			b.log.Debug("candidate endpoint failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}
		return endpoint, doc, nil
	}

	if b.probePresence(ctx, location) {
		b.log.Warn("device reachable but no content endpoint answered",
			zap.String("location", location),
		)
		return "", upnp.DIDLDocument{}, ErrBrowseFailed
	}
	return "", upnp.DIDLDocument{}, fmt.Errorf("%w: device unreachable at %s", ErrBrowseFailed, location)
}

func (b *Browser) candidateURLs(location string, controlURL string) []string {
	origin := baseOrigin(location)
	urls := make([]string, 0, len(b.candidatePaths)+1)
	seen := map[string]bool{}
	if strings.TrimSpace(controlURL) != "" {
		urls = append(urls, controlURL)
		seen[controlURL] = true
	}
	for _, path := range b.candidatePaths {
		candidate := origin + path
		if !seen[candidate] {
			urls = append(urls, candidate)
			seen[candidate] = true
		}
	}
	return urls
}

func (b *Browser) browseObject(ctx context.Context, endpoint string, objectID string) (upnp.DIDLDocument, error) {
	resp, err := b.soap.Browse(ctx, endpoint, objectID, "BrowseDirectChildren", 0, 0)
	if err != nil {
		return upnp.DIDLDocument{}, err
	}
	if strings.TrimSpace(resp.Result) == "" {
		return upnp.DIDLDocument{}, nil
	}
	doc, err := upnp.ParseDIDL(resp.Result)
	if err != nil {
		// A 2xx with junk XML still claims the endpoint; degrade to
		// an empty listing rather than reporting the endpoint dead.
		b.log.Debug("didl parse failed", zap.String("endpoint", endpoint), zap.Error(err))
		return upnp.DIDLDocument{}, nil
	}
	return doc, nil
}

// probePresence confirms reachability only; it cannot retrieve content.
func (b *Browser) probePresence(ctx context.Context, location string) bool {
	origin := baseOrigin(location)
	for _, probe := range []string{origin + "/", origin + "/dev/desc.xml"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
		if err != nil {
			continue
		}
		resp, err := b.http.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		return true
	}
	return false
}

// sweepContainers accumulates results across the well-known container
// IDs, issuing at most one extra Browse per discovered album for its
// tracks. Recursion is capped at that single level: vendor bugs produce
// cyclic trees and unbounded descent would never come back.
func (b *Browser) sweepContainers(ctx context.Context, endpoint string, location string, result *Result) {
	for _, containerID := range fallbackContainerIDs {
		doc, err := b.browseObject(ctx, endpoint, containerID)
		if err != nil {
			b.log.Debug("container sweep probe failed",
				zap.String("container", containerID),
				zap.Error(err),
			)
			continue
		}
		albumsBefore := len(result.Albums)
		b.collect(doc, location, result)

		for _, album := range result.Albums[albumsBefore:] {
			if len(result.Tracks) > 0 {
				break
			}
			albumDoc, err := b.browseObject(ctx, endpoint, album.ID)
			if err != nil {
				b.log.Debug("album browse failed",
					zap.String("album", album.ID),
					zap.Error(err),
				)
				continue
			}
			b.collectTracks(albumDoc, location, result)
		}

		// The goal is showing something usable, not enumerating
		// everything.
		if len(result.Tracks) > 0 {
			return
		}
	}
}

// collect classifies containers into artists and albums by upnp:class
// and items into tracks.
func (b *Browser) collect(doc upnp.DIDLDocument, location string, result *Result) {
	for _, container := range doc.Containers {
		switch {
		case upnp.IsArtistContainer(container.Class):
			result.Artists = append(result.Artists, Artist{
				ID:         container.ID,
				Name:       orUnknown(container.Title, "Unknown Artist"),
				AlbumCount: childCount(container),
			})
		case upnp.IsAlbumContainer(container.Class):
			result.Albums = append(result.Albums, albumFromContainer(container, location))
		}
	}
	b.collectTracks(doc, location, result)
}

func (b *Browser) collectTracks(doc upnp.DIDLDocument, location string, result *Result) {
	for _, item := range doc.Items {
		track := Track{
			ID:          item.ID,
			Title:       orUnknown(item.Title, "Unknown Title"),
			Artist:      orUnknown(item.ArtistName(), "Unknown Artist"),
			Album:       orUnknown(item.Album, "Unknown Album"),
			TrackNumber: upnp.ParseTrackNumber(item.TrackNumber),
		}
		if res, ok := item.FirstResource(); ok {
			track.StreamURL = upnp.ResolveURL(location, strings.TrimSpace(res.Value))
			track.Duration = upnp.ParseDuration(res.Duration)
		}
		if art := item.FirstAlbumArt(); art != "" {
			track.AlbumArt = upnp.ResolveURL(location, art)
		}
		result.Tracks = append(result.Tracks, track)
	}
}

func albumFromContainer(container upnp.DIDLObject, location string) Album {
	album := Album{
		ID:         container.ID,
		Name:       orUnknown(container.Title, "Unknown Album"),
		Artist:     orUnknown(container.ArtistName(), "Unknown Artist"),
		ArtistID:   container.ParentID,
		TrackCount: childCount(container),
	}
	if art := container.FirstAlbumArt(); art != "" {
		album.ImageURL = upnp.ResolveURL(location, art)
	}
	if len(container.Date) >= 4 {
		if year, err := strconv.Atoi(container.Date[:4]); err == nil {
			album.Year = year
		}
	}
	return album
}

func childCount(obj upnp.DIDLObject) int {
	n, err := strconv.Atoi(strings.TrimSpace(obj.ChildCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func orUnknown(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func baseOrigin(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return strings.TrimRight(location, "/")
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
