// Package upnp implements the protocol plumbing shared by discovery and
// browsing: SOAP control calls, device description parsing and DIDL-Lite
// content listings.
package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the uniform timeout for every UPnP HTTP exchange.
const DefaultTimeout = 5 * time.Second

// Well-known service type URNs. RenderingControl ships as :1 or :2
// depending on vendor, with different action sets, so both are listed
// and callers retry with the alternate version on failure.
const (
	ServiceContentDirectory  = "urn:schemas-upnp-org:service:ContentDirectory:1"
	ServiceAVTransport       = "urn:schemas-upnp-org:service:AVTransport:1"
	ServiceRenderingControl  = "urn:schemas-upnp-org:service:RenderingControl:1"
	ServiceRenderingControl2 = "urn:schemas-upnp-org:service:RenderingControl:2"
)

// Arg is a single ordered SOAP action argument.
type Arg struct {
	Name  string
	Value string
}

// HTTPError reports a non-2xx control response. These are terminal for
// the URL they came from and are never retried.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("soap: http status %d", e.Status)
}

// SOAPClient issues UPnP control actions over HTTP POST.
type SOAPClient struct {
	http *http.Client
	log  *zap.Logger
}

// NewSOAPClient creates a client with the uniform timeout.
func NewSOAPClient(log *zap.Logger) *SOAPClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &SOAPClient{
		http: &http.Client{Timeout: DefaultTimeout},
		log:  log,
	}
}

// Call builds the envelope for an action and POSTs it to controlURL,
// returning the raw response body. A timed-out request is retried once;
// any other failure, including a non-2xx status, is terminal.
func (c *SOAPClient) Call(ctx context.Context, controlURL string, serviceType string, action string, args []Arg) ([]byte, error) {
	envelope := BuildEnvelope(serviceType, action, args)
	body, err := c.post(ctx, controlURL, serviceType, action, envelope)
	if err != nil && isTimeout(err) {
		c.log.Debug("soap timeout, retrying once",
			zap.String("url", controlURL),
			zap.String("action", action),
		)
		body, err = c.post(ctx, controlURL, serviceType, action, envelope)
	}
	return body, err
}

func (c *SOAPClient) post(ctx context.Context, controlURL string, serviceType string, action string, envelope []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, serviceType, action))

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("soap call",
		zap.String("url", controlURL),
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("duration", time.Since(started)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: raw}
	}
	return raw, nil
}

// BuildEnvelope renders a SOAP 1.1 envelope for one action. Argument
// order is preserved; ContentDirectory implementations are picky about it.
func BuildEnvelope(serviceType string, action string, args []Arg) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString(`<s:Body><u:` + action + ` xmlns:u="` + serviceType + `">`)
	for _, arg := range args {
		buf.WriteString(`<` + arg.Name + `>` + xmlEscape(arg.Value) + `</` + arg.Name + `>`)
	}
	buf.WriteString(`</u:` + action + `></s:Body></s:Envelope>`)
	return buf.Bytes()
}

// StripEnvelope returns the inner XML of the SOAP Body. No further
// unwrapping happens here; action responses are parsed by their callers.
func StripEnvelope(raw []byte) ([]byte, error) {
	var env struct {
		Body struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if len(env.Body.Inner) == 0 {
		return nil, errors.New("soap: empty body")
	}
	return env.Body.Inner, nil
}

// BrowseResponse is the payload of a ContentDirectory Browse reply.
type BrowseResponse struct {
	Result         string
	NumberReturned int64
	TotalMatches   int64
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

func (f *soapFault) Error() string {
	if f == nil {
		return ""
	}
	if f.Detail != "" {
		return f.String + ": " + strings.TrimSpace(f.Detail)
	}
	return f.String
}

// ParseBrowseResponse extracts the Browse result from a raw SOAP reply.
func ParseBrowseResponse(raw []byte) (BrowseResponse, error) {
	var env struct {
		XMLName xml.Name `xml:"Envelope"`
		Body    struct {
			BrowseResponse struct {
				Result         string `xml:"Result"`
				NumberReturned int64  `xml:"NumberReturned"`
				TotalMatches   int64  `xml:"TotalMatches"`
			} `xml:"BrowseResponse"`
			Fault *soapFault `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(raw, &env); err != nil {
		return BrowseResponse{}, err
	}
	if env.Body.Fault != nil {
		return BrowseResponse{}, fmt.Errorf("soap fault: %s", env.Body.Fault.Error())
	}
	return BrowseResponse{
		Result:         env.Body.BrowseResponse.Result,
		NumberReturned: env.Body.BrowseResponse.NumberReturned,
		TotalMatches:   env.Body.BrowseResponse.TotalMatches,
	}, nil
}

// Browse issues a ContentDirectory Browse action against controlURL.
func (c *SOAPClient) Browse(ctx context.Context, controlURL string, objectID string, flag string, start int64, count int64) (BrowseResponse, error) {
	raw, err := c.Call(ctx, controlURL, ServiceContentDirectory, "Browse", []Arg{
		{Name: "ObjectID", Value: objectID},
		{Name: "BrowseFlag", Value: flag},
		{Name: "Filter", Value: "*"},
		{Name: "StartingIndex", Value: fmt.Sprintf("%d", start)},
		{Name: "RequestedCount", Value: fmt.Sprintf("%d", count)},
		{Name: "SortCriteria", Value: ""},
	})
	if err != nil {
		return BrowseResponse{}, err
	}
	return ParseBrowseResponse(raw)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func xmlEscape(value string) string {
	replacer := strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		`'`, "&apos;",
		`"`, "&quot;",
	)
	return replacer.Replace(value)
}
