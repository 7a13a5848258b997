package upnp

import (
	"encoding/xml"
	"html"
	"strconv"
	"strings"
)

// DIDLDocument is the parsed content of a ContentDirectory Browse Result.
type DIDLDocument struct {
	XMLName    xml.Name     `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ DIDL-Lite"`
	Containers []DIDLObject `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ container"`
	Items      []DIDLObject `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ item"`
}

// DIDLObject is a single container or item entry.
type DIDLObject struct {
	ID             string    `xml:"id,attr"`
	ParentID       string    `xml:"parentID,attr"`
	Title          string    `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator        string    `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Date           string    `xml:"http://purl.org/dc/elements/1.1/ date"`
	Class          string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class"`
	Artist         string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ artist"`
	Album          string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ album"`
	TrackNumber    string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ originalTrackNumber"`
	ChildCount     string    `xml:"childCount,attr"`
	AlbumArtURI    []string  `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ albumArtURI"`
	AlbumArtURIRaw []string  `xml:"albumArtURI"`
	Resources      []DIDLRes `xml:"res"`
}

// DIDLRes is a <res> element: the URL plus transport attributes.
type DIDLRes struct {
	Value        string `xml:",chardata"`
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Duration     string `xml:"duration,attr"`
	Size         int64  `xml:"size,attr"`
}

// ParseDIDL unmarshals a DIDL-Lite document. The payload arrives
// entity-escaped inside <Result>; encoding/xml unescapes it once on the
// way out of the envelope, but some renderers escape twice, so a failed
// parse is retried after another unescape pass.
func ParseDIDL(payload string) (DIDLDocument, error) {
	var doc DIDLDocument
	if err := xml.Unmarshal([]byte(payload), &doc); err == nil {
		return doc, nil
	}
	var doc2 DIDLDocument
	if err := xml.Unmarshal([]byte(UnescapeEntities(payload)), &doc2); err != nil {
		return DIDLDocument{}, err
	}
	return doc2, nil
}

// UnescapeEntities resolves XML/HTML character entities, e.g.
// "&lt;test&gt;" becomes "<test>".
func UnescapeEntities(s string) string {
	return html.UnescapeString(s)
}

// IsArtistContainer reports whether a upnp:class names an artist-like
// container (musicArtist or any person subtype).
func IsArtistContainer(class string) bool {
	c := strings.ToLower(class)
	return strings.Contains(c, "musicartist") || strings.Contains(c, "person")
}

// IsAlbumContainer reports whether a upnp:class names an album container.
func IsAlbumContainer(class string) bool {
	c := strings.ToLower(class)
	return strings.Contains(c, "musicalbum") || strings.Contains(c, "album")
}

// IsContainerClass reports whether a upnp:class names any container.
func IsContainerClass(class string) bool {
	return strings.Contains(strings.ToLower(class), "container")
}

// ParseDuration converts a <res> duration ("H:MM:SS.ss", minutes and
// seconds optionally unpadded) to whole seconds. Missing or malformed
// input yields 0, never a negative value.
func ParseDuration(duration string) int {
	duration = strings.TrimSpace(duration)
	if duration == "" {
		return 0
	}
	parts := strings.Split(duration, ":")
	if len(parts) > 3 {
		return 0
	}
	for len(parts) < 3 {
		parts = append([]string{"0"}, parts...)
	}
	hours, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hours < 0 {
		return 0
	}
	mins, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || mins < 0 {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil || secs < 0 {
		return 0
	}
	total := hours*3600 + mins*60 + int(secs)
	if total < 0 {
		return 0
	}
	return total
}

// ParseTrackNumber converts upnp:originalTrackNumber, defaulting to 0.
func ParseTrackNumber(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FirstAlbumArt returns the first albumArtURI, preferring the
// namespace-qualified form over the bare one some servers emit.
func (o DIDLObject) FirstAlbumArt() string {
	if len(o.AlbumArtURI) > 0 {
		return o.AlbumArtURI[0]
	}
	if len(o.AlbumArtURIRaw) > 0 {
		return o.AlbumArtURIRaw[0]
	}
	return ""
}

// FirstResource returns the first non-empty <res> entry.
func (o DIDLObject) FirstResource() (DIDLRes, bool) {
	for _, res := range o.Resources {
		if strings.TrimSpace(res.Value) != "" {
			return res, true
		}
	}
	return DIDLRes{}, false
}

// ArtistName returns upnp:artist with dc:creator as fallback.
func (o DIDLObject) ArtistName() string {
	if o.Artist != "" {
		return o.Artist
	}
	return o.Creator
}
