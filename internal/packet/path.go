package packet

import (
	"errors"
	"strings"
)

// ErrPathUndecodable is returned when a path source contains no decodable
// hop tokens. It is distinct from a successfully decoded empty (direct)
// path.
var ErrPathUndecodable = errors.New("path undecodable")

// Path is an ordered list of lowercase 2-hex-character node ID tokens,
// nearest hop first. An empty (but non-nil) Path means a direct delivery
// with zero hops.
type Path []string

// String renders the path in the canonical comma-separated form used in
// reports, e.g. "11,98,a4".
func (p Path) String() string {
	return strings.Join(p, ",")
}

// Direct reports whether the path is an explicit zero-hop delivery.
func (p Path) Direct() bool {
	return p != nil && len(p) == 0
}

// PathFromRaw converts raw on-air path bytes to hop tokens. Observed
// captures carry two bytes per hop with the node ID in the low
// (first, little-endian) byte; a trailing odd byte is ignored.
//
// TODO: confirm the two-byte pairing against captures from more firmware
// versions; companion logs only ever show zero high bytes.
func PathFromRaw(raw []byte) Path {
	hops := make(Path, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		hops = append(hops, hexToken(raw[i]))
	}
	return hops
}

const hexDigits = "0123456789abcdef"

func hexToken(b byte) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0F]})
}

// PathFromText parses delimited hex text such as "11,98,a4", "11 98 a4"
// or the flat run "1198a4". Fields split on commas, colons and spaces;
// a field is either a single 2-hex-digit token or an even-length hex run
// that splits into tokens. Invalid fields are dropped rather than fatal;
// zero valid tokens is undecodable.
func PathFromText(s string) (Path, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ':' || r == ' ' || r == '\t'
	})

	var hops Path
	for _, field := range fields {
		if len(field)%2 != 0 || !isHex(field) {
			continue
		}
		for i := 0; i < len(field); i += 2 {
			hops = append(hops, strings.ToLower(field[i:i+2]))
		}
	}

	if len(hops) == 0 {
		return nil, ErrPathUndecodable
	}
	return hops, nil
}

// PathFromDisplay parses the human display form of a path, which may carry
// a trailing " via ROUTE_TYPE_*" route annotation or a "(N hops)" suffix.
// The literal markers "Direct" and "0 hops" decode to the explicit empty
// path, which is distinct from undecodable.
func PathFromDisplay(s string) (Path, error) {
	if strings.Contains(s, "Direct") || strings.Contains(s, "0 hops") {
		return Path{}, nil
	}

	if idx := strings.Index(s, " via ROUTE_TYPE_"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, "("); idx >= 0 {
		s = s[:idx]
	}

	return PathFromText(strings.TrimSpace(s))
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}
