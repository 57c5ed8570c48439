// Package packet implements the MeshCore wire format: decoding raw radio
// frames into structured packets, deriving content identity hashes, and
// normalising the various path representations into canonical hop lists.
package packet

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Header bit layout constants from the firmware's packet.h.
const (
	routeMask = 0x03
	typeShift = 2
	typeMask  = 0x0F
	verShift  = 6
	verMask   = 0x03
)

// Wire format limits from the firmware's packet.h.
const (
	MaxPathSize      = 64
	MaxPacketPayload = 240
)

var (
	ErrTooShort       = errors.New("packet too short")
	ErrTruncated      = errors.New("packet truncated")
	ErrPathTooLong    = errors.New("path exceeds maximum size")
	ErrPayloadTooLong = errors.New("payload exceeds maximum size")
)

// RouteType is the 2-bit routing mode in the packet header.
type RouteType uint8

const (
	RouteTransportFlood  RouteType = 0x00
	RouteFlood           RouteType = 0x01
	RouteDirect          RouteType = 0x02
	RouteTransportDirect RouteType = 0x03
)

// HasTransportCodes reports whether frames with this route type carry the
// two little-endian uint16 transport codes after the header byte.
func (r RouteType) HasTransportCodes() bool {
	return r == RouteTransportFlood || r == RouteTransportDirect
}

func (r RouteType) String() string {
	switch r {
	case RouteTransportFlood:
		return "ROUTE_TYPE_TRANSPORT_FLOOD"
	case RouteFlood:
		return "ROUTE_TYPE_FLOOD"
	case RouteDirect:
		return "ROUTE_TYPE_DIRECT"
	case RouteTransportDirect:
		return "ROUTE_TYPE_TRANSPORT_DIRECT"
	}
	return fmt.Sprintf("ROUTE_TYPE_UNKNOWN_0x%02X", uint8(r))
}

// PayloadType is the 4-bit payload type in the packet header. The wire
// format defines a fixed 16-slot space; slots without a name decode as
// reserved rather than failing.
type PayloadType uint8

const (
	PayloadReq       PayloadType = 0x00
	PayloadResponse  PayloadType = 0x01
	PayloadTxtMsg    PayloadType = 0x02
	PayloadAck       PayloadType = 0x03
	PayloadAdvert    PayloadType = 0x04
	PayloadGrpTxt    PayloadType = 0x05
	PayloadGrpData   PayloadType = 0x06
	PayloadAnonReq   PayloadType = 0x07
	PayloadPath      PayloadType = 0x08
	PayloadTrace     PayloadType = 0x09
	PayloadMultipart PayloadType = 0x0A
	PayloadRawCustom PayloadType = 0x0F
)

var payloadTypeNames = map[PayloadType]string{
	PayloadReq:       "REQ",
	PayloadResponse:  "RESPONSE",
	PayloadTxtMsg:    "TXT_MSG",
	PayloadAck:       "ACK",
	PayloadAdvert:    "ADVERT",
	PayloadGrpTxt:    "GRP_TXT",
	PayloadGrpData:   "GRP_DATA",
	PayloadAnonReq:   "ANON_REQ",
	PayloadPath:      "PATH",
	PayloadTrace:     "TRACE",
	PayloadMultipart: "MULTIPART",
	PayloadRawCustom: "RAW_CUSTOM",
}

// Known reports whether the type is one of the named slots.
func (p PayloadType) Known() bool {
	_, ok := payloadTypeNames[p]
	return ok
}

func (p PayloadType) String() string {
	if name, ok := payloadTypeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("RESERVED_0x%02X", uint8(p))
}

// Packet is a decoded MeshCore frame.
type Packet struct {
	Header         byte
	RouteType      RouteType
	PayloadType    PayloadType
	PayloadVersion uint8

	// TransportCodes are zero unless RouteType carries them.
	TransportCodes [2]uint16

	// Path holds the raw path bytes verbatim; interpretation is up to
	// the path decoder.
	Path []byte

	Payload []byte

	// Raw is the frame exactly as received.
	Raw []byte
}

// Decode parses a raw frame into a Packet. Structural failures return a
// typed error; the caller drops the frame. Reserved payload types decode
// normally.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(raw))
	}

	header := raw[0]
	p := &Packet{
		Header:         header,
		RouteType:      RouteType(header & routeMask),
		PayloadType:    PayloadType((header >> typeShift) & typeMask),
		PayloadVersion: (header >> verShift) & verMask,
		Raw:            raw,
	}

	i := 1
	if p.RouteType.HasTransportCodes() {
		if len(raw) < i+4 {
			return nil, fmt.Errorf("%w: missing transport codes", ErrTruncated)
		}
		p.TransportCodes[0] = binary.LittleEndian.Uint16(raw[i : i+2])
		p.TransportCodes[1] = binary.LittleEndian.Uint16(raw[i+2 : i+4])
		i += 4
	}

	if i >= len(raw) {
		return nil, fmt.Errorf("%w: missing path length", ErrTruncated)
	}
	pathLen := int(raw[i])
	i++

	if pathLen > MaxPathSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPathTooLong, pathLen)
	}
	if i+pathLen > len(raw) {
		return nil, fmt.Errorf("%w: path needs %d bytes, %d remain", ErrTruncated, pathLen, len(raw)-i)
	}
	p.Path = raw[i : i+pathLen]
	i += pathLen

	p.Payload = raw[i:]
	if len(p.Payload) > MaxPacketPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(p.Payload))
	}

	return p, nil
}

// PayloadText is the best-effort text rendering of a packet payload.
// Exactly one of Text or HexDump is populated; extraction never fails
// harder than falling back to the hex dump.
type PayloadText struct {
	Text    string
	HexDump string

	// Timestamp is the sender clock for TXT_MSG / GRP_TXT payloads,
	// zero otherwise.
	Timestamp uint32
}

// Text extracts human-readable content from the payload when the payload
// type defines one. TXT_MSG payloads are dest/src hash + MAC (4 bytes),
// timestamp (4 bytes LE), then UTF-8 text. GRP_TXT payloads are channel
// hash + MAC (3 bytes), timestamp, then "name: message" text.
func (p *Packet) Text() PayloadText {
	switch p.PayloadType {
	case PayloadTxtMsg:
		if len(p.Payload) >= 8 {
			return textFrom(p.Payload[8:], binary.LittleEndian.Uint32(p.Payload[4:8]))
		}
	case PayloadGrpTxt:
		if len(p.Payload) >= 7 {
			return textFrom(p.Payload[7:], binary.LittleEndian.Uint32(p.Payload[3:7]))
		}
	}
	return PayloadText{HexDump: hex.EncodeToString(p.Payload)}
}

func textFrom(data []byte, ts uint32) PayloadText {
	text := strings.TrimRight(string(data), "\x00")
	if !utf8.ValidString(text) {
		return PayloadText{HexDump: hex.EncodeToString(data), Timestamp: ts}
	}
	return PayloadText{Text: text, Timestamp: ts}
}
