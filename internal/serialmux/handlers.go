package serialmux

import (
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/mesh.report/internal/db"
	"github.com/banshee-data/mesh.report/internal/rflog"
)

// HandleRFFrame parses an RF log line and appends the observation to the
// buffer, carrying along any radio metrics the firmware reported. The
// appended observation is returned so callers can inspect what was heard.
func HandleRFFrame(buf *rflog.Buffer, line string) (rflog.Observation, error) {
	parsed, err := ParseRFLine(line)
	if err != nil {
		return rflog.Observation{}, err
	}

	obs := rflog.FromRaw(time.Now(), parsed.Raw)
	obs.SNR = parsed.SNR
	obs.RSSI = parsed.RSSI
	buf.Append(obs)
	return obs, nil
}

// HandleAdvert records a node advertisement in the contact database.
func HandleAdvert(d *db.DB, line string) error {
	parsed, err := ParseAdvertLine(line)
	if err != nil {
		return err
	}
	return d.RecordAdvert(parsed.PublicKey, parsed.Name, time.Now())
}

// HandleEvent routes one line from the companion node to the right
// handler. Status lines and unknown chatter are logged and dropped.
func HandleEvent(d *db.DB, buf *rflog.Buffer, line string) error {
	switch ClassifyLine(line) {
	case EventTypeRFFrame:
		if _, err := HandleRFFrame(buf, line); err != nil {
			return fmt.Errorf("failed to handle RF frame: %w", err)
		}
	case EventTypeAdvert:
		if err := HandleAdvert(d, line); err != nil {
			return fmt.Errorf("failed to handle advert: %w", err)
		}
	case EventTypeStatus:
		log.Printf("node status: %s", line)
	default:
		log.Printf("unrecognised serial line: %s", line)
	}
	return nil
}
