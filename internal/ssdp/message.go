package ssdp

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"strings"
)

// Message is the useful subset of one SSDP datagram: either a 200 OK
// M-SEARCH response or a NOTIFY announcement.
type Message struct {
	Location     string
	USN          string
	Server       string
	SearchTarget string // ST on responses, NT on NOTIFY
}

// ParseMessage parses a CRLF header block. SSDP reuses HTTP framing, so
// the stdlib readers handle both shapes: responses parse as HTTP
// responses, NOTIFY (and stray M-SEARCH echoes) as requests.
func ParseMessage(datagram []byte) (Message, error) {
	var header http.Header
	if resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(datagram)), nil); err == nil {
		resp.Body.Close()
		header = resp.Header
	} else {
		req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(datagram)))
		if err != nil {
			return Message{}, err
		}
		if req.Method == "M-SEARCH" {
			return Message{}, errSearchEcho
		}
		header = req.Header
	}

	msg := Message{
		Location:     header.Get("Location"),
		USN:          header.Get("USN"),
		Server:       header.Get("Server"),
		SearchTarget: header.Get("ST"),
	}
	if msg.SearchTarget == "" {
		msg.SearchTarget = header.Get("NT")
	}
	if msg.Location == "" {
		return Message{}, errors.New("ssdp: datagram without LOCATION")
	}
	return msg, nil
}

var errSearchEcho = errors.New("ssdp: m-search echo")

// DeviceKey derives the cache key for a message: the uuid segment of
// USN, or the sender address when the USN is missing or malformed.
func DeviceKey(usn string, senderAddr string) string {
	usn = strings.TrimSpace(usn)
	if usn == "" {
		return senderAddr
	}
	head := strings.SplitN(usn, "::", 2)[0]
	if uuid, ok := strings.CutPrefix(head, "uuid:"); ok && uuid != "" {
		return uuid
	}
	return senderAddr
}
