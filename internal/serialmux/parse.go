package serialmux

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	EventTypeRFFrame = "rf_frame"
	EventTypeAdvert  = "advert"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyLine inspects a line from the companion node and returns a
// simple event type token. The classification is intentionally
// conservative: anything we don't positively recognise is unknown.
func ClassifyLine(line string) string {
	switch {
	case strings.HasPrefix(line, "RF: "):
		return EventTypeRFFrame
	case strings.HasPrefix(line, "ADVERT: "):
		return EventTypeAdvert
	case strings.HasPrefix(line, "STATUS: "):
		return EventTypeStatus
	default:
		return EventTypeUnknown
	}
}

// RFLine is one raw frame report from the companion node's RF log:
//
//	RF: <hex frame> [snr=<float>] [rssi=<int>]
//
// SNR and RSSI are optional; firmware builds differ in what they report.
type RFLine struct {
	Raw  []byte
	SNR  *float64
	RSSI *int
}

// ParseRFLine decodes an "RF: " line into the raw frame bytes and any
// radio metrics the firmware appended.
func ParseRFLine(line string) (*RFLine, error) {
	rest, ok := strings.CutPrefix(line, "RF: ")
	if !ok {
		return nil, fmt.Errorf("not an RF line: %q", line)
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty RF line")
	}

	raw, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("bad frame hex %q: %w", fields[0], err)
	}

	out := &RFLine{Raw: raw}
	for _, field := range fields[1:] {
		if v, ok := strings.CutPrefix(field, "snr="); ok {
			snr, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("bad snr %q: %w", v, err)
			}
			out.SNR = &snr
		} else if v, ok := strings.CutPrefix(field, "rssi="); ok {
			rssi, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("bad rssi %q: %w", v, err)
			}
			out.RSSI = &rssi
		}
		// unrecognised trailing fields are ignored, not errors
	}
	return out, nil
}

// AdvertLine is a node advertisement report:
//
//	ADVERT: <public key hex> <node name>
//
// The name may contain spaces.
type AdvertLine struct {
	PublicKey string
	Name      string
}

// ParseAdvertLine decodes an "ADVERT: " line.
func ParseAdvertLine(line string) (*AdvertLine, error) {
	rest, ok := strings.CutPrefix(line, "ADVERT: ")
	if !ok {
		return nil, fmt.Errorf("not an advert line: %q", line)
	}

	key, name, _ := strings.Cut(rest, " ")
	if key == "" {
		return nil, fmt.Errorf("advert line missing public key")
	}
	if _, err := hex.DecodeString(key); err != nil {
		return nil, fmt.Errorf("bad public key %q: %w", key, err)
	}

	return &AdvertLine{
		PublicKey: strings.ToLower(key),
		Name:      strings.TrimSpace(name),
	}, nil
}
