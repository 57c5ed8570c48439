package packet

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

// UnknownHash is the sentinel identity for frames whose payload could not
// be located. It is a normal return value meaning "identity unknown" and
// must never be used as a real hash for correlation.
const UnknownHash = "0000000000000000"

// IdentityHash derives the content identity of a raw frame: the first 16
// hex characters (upper-cased) of SHA-256 over the payload type byte,
// the path length as a 2-byte little-endian value for TRACE packets only,
// and the payload bytes.
//
// The preimage deliberately excludes the route type, transport codes and
// path, which change on every rebroadcast; two relays of the same logical
// message hash identically. This must match the transmitting firmware
// bit-for-bit, so any change here silently breaks correlation rather than
// crashing.
func IdentityHash(raw []byte) string {
	return identityHash(raw, nil)
}

// IdentityHashForType is IdentityHash with the payload type forced,
// for callers that have already classified the frame out of band.
func IdentityHashForType(raw []byte, payloadType PayloadType) string {
	return identityHash(raw, &payloadType)
}

func identityHash(raw []byte, override *PayloadType) string {
	// Re-parse the frame independently of Decode so identity stays
	// byte-exact even if the codec's validation evolves.
	if len(raw) < 2 {
		return UnknownHash
	}

	header := raw[0]
	payloadType := PayloadType((header >> typeShift) & typeMask)
	if override != nil {
		payloadType = *override
	}

	i := 1
	if RouteType(header & routeMask).HasTransportCodes() {
		if len(raw) < i+4 {
			return UnknownHash
		}
		i += 4
	}

	if i >= len(raw) {
		return UnknownHash
	}
	pathLen := int(raw[i])
	i++

	if i+pathLen > len(raw) {
		return UnknownHash
	}
	payload := raw[i+pathLen:]

	h := sha256.New()
	h.Write([]byte{byte(payloadType) & typeMask})
	if payloadType == PayloadTrace {
		// TRACE dedup in the firmware includes the path length, so a
		// forwarded trace hashes differently at each hop.
		var lenBytes [2]byte
		binary.LittleEndian.PutUint16(lenBytes[:], uint16(pathLen))
		h.Write(lenBytes[:])
	}
	h.Write(payload)

	digest := fmt.Sprintf("%x", h.Sum(nil))
	return strings.ToUpper(digest[:16])
}
