package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	freecache "github.com/coocood/freecache"
	gocache "github.com/eko/gocache/lib/v4/cache"
	libstore "github.com/eko/gocache/lib/v4/store"
	gocachefreecache "github.com/eko/gocache/store/freecache/v4"
	"github.com/golang/snappy"
	"go.uber.org/zap"
)

const (
	descriptorCacheSize = 8 * 1024 * 1024
	descriptorCacheTTL  = 10 * time.Minute
)

// Service is one entry of a device's serviceList, with every URL made
// absolute during parsing.
type Service struct {
	ServiceType string `json:"serviceType"`
	ServiceID   string `json:"serviceId"`
	ControlURL  string `json:"controlUrl"`
	EventSubURL string `json:"eventSubUrl,omitempty"`
	SCPDURL     string `json:"scpdUrl,omitempty"`
}

// Description is the useful subset of a UPnP device description,
// including services of embedded sub-devices.
type Description struct {
	FriendlyName        string
	Manufacturer        string
	ModelName           string
	Services            []Service
	AVTransportURL      string
	ContentDirectoryURL string
	RenderingControlURL string
}

// DescriptionFetcher retrieves and parses device description XML.
// Successful fetches are cached (snappy-compressed) so the self-healing
// enrichment retries don't hammer devices; failures are never cached,
// keeping the retry path live.
type DescriptionFetcher struct {
	http     *http.Client
	log      *zap.Logger
	cache    gocache.CacheInterface[[]byte]
	cacheCtx context.Context
}

// NewDescriptionFetcher creates a fetcher with the uniform timeout.
func NewDescriptionFetcher(log *zap.Logger) *DescriptionFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	store := gocachefreecache.NewFreecache(freecache.NewCache(descriptorCacheSize))
	return &DescriptionFetcher{
		http:     &http.Client{Timeout: DefaultTimeout},
		log:      log,
		cache:    gocache.New[[]byte](store),
		cacheCtx: context.Background(),
	}
}

// Fetch GETs the description at location and parses it. Network errors,
// non-2xx statuses and unparsable XML all come back as errors; callers
// skip the device and retry on a later SSDP sighting.
func (f *DescriptionFetcher) Fetch(ctx context.Context, location string) (Description, error) {
	if raw, ok := f.cacheGet(location); ok {
		desc, err := ParseDescription(raw, location)
		if err == nil {
			return desc, nil
		}
		// A cached document that no longer parses is dropped.
		_ = f.cache.Delete(f.cacheCtx, location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Description{}, err
	}
	started := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		return Description{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Description{}, fmt.Errorf("description fetch: http status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Description{}, err
	}
	desc, err := ParseDescription(raw, location)
	if err != nil {
		return Description{}, err
	}
	f.cachePut(location, raw)
	f.log.Debug("description fetched",
		zap.String("location", location),
		zap.String("device", desc.FriendlyName),
		zap.Int("services", len(desc.Services)),
		zap.Duration("duration", time.Since(started)),
	)
	return desc, nil
}

func (f *DescriptionFetcher) cacheGet(location string) ([]byte, bool) {
	if f.cache == nil {
		return nil, false
	}
	value, err := f.cache.Get(f.cacheCtx, location)
	if err != nil {
		return nil, false
	}
	decoded, err := snappy.Decode(nil, value)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func (f *DescriptionFetcher) cachePut(location string, raw []byte) {
	if f.cache == nil {
		return
	}
	_ = f.cache.Set(f.cacheCtx, location, snappy.Encode(nil, raw), libstore.WithExpiration(descriptorCacheTTL))
}

type descriptionXML struct {
	URLBase string    `xml:"URLBase"`
	Device  deviceXML `xml:"device"`
}

type deviceXML struct {
	FriendlyName string       `xml:"friendlyName"`
	Manufacturer string       `xml:"manufacturer"`
	ModelName    string       `xml:"modelName"`
	Services     []serviceXML `xml:"serviceList>service"`
	Devices      []deviceXML  `xml:"deviceList>device"`
}

type serviceXML struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

// ParseDescription parses description XML fetched from location.
// URLBase, when present, replaces the request URL as the base for
// resolving relative URLs. Embedded sub-devices are scanned too; a root
// device frequently wraps the MediaRenderer that actually carries the
// services.
func ParseDescription(raw []byte, location string) (Description, error) {
	var doc descriptionXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return Description{}, err
	}
	base := strings.TrimSpace(doc.URLBase)
	if base == "" {
		base = location
	}

	desc := Description{
		FriendlyName: doc.Device.FriendlyName,
		Manufacturer: doc.Device.Manufacturer,
		ModelName:    doc.Device.ModelName,
	}
	collectServices(&desc, doc.Device, base)
	return desc, nil
}

func collectServices(desc *Description, dev deviceXML, base string) {
	for _, svc := range dev.Services {
		service := Service{
			ServiceType: svc.ServiceType,
			ServiceID:   svc.ServiceID,
			ControlURL:  ResolveURL(base, svc.ControlURL),
			EventSubURL: resolveOptional(base, svc.EventSubURL),
			SCPDURL:     resolveOptional(base, svc.SCPDURL),
		}
		desc.Services = append(desc.Services, service)
		classifyService(desc, service)
	}
	for _, sub := range dev.Devices {
		collectServices(desc, sub, base)
	}
}

// classifyService fills the derived control URLs on first match; once
// set they are never overwritten.
func classifyService(desc *Description, svc Service) {
	switch {
	case strings.Contains(svc.ServiceType, "AVTransport"):
		if desc.AVTransportURL == "" {
			desc.AVTransportURL = svc.ControlURL
		}
	case strings.Contains(svc.ServiceType, "ContentDirectory"):
		if desc.ContentDirectoryURL == "" {
			desc.ContentDirectoryURL = svc.ControlURL
		}
	case strings.Contains(svc.ServiceType, "RenderingControl"):
		if desc.RenderingControlURL == "" {
			desc.RenderingControlURL = svc.ControlURL
		}
	}
}

// ResolveURL makes ref absolute against base. Absolute http(s) refs are
// kept, refs starting with "/" join the base origin, and bare relative
// refs join the base directory.
func ResolveURL(base string, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
	}
	return baseURL.ResolveReference(refURL).String()
}

func resolveOptional(base string, ref string) string {
	if strings.TrimSpace(ref) == "" {
		return ""
	}
	return ResolveURL(base, ref)
}
