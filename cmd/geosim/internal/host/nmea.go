package host

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

const knotsToMps = 0.514444

// LoadNMEAFixes parses an NMEA sentence log into fixes. RMC sentences with a
// valid status carry position, speed and course; a following GGA sentence
// enriches the most recent fix with altitude and an accuracy estimate.
// Unparseable lines are skipped, matching how a noisy receiver is read.
func LoadNMEAFixes(path string) ([]Fix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NMEA log: %w", err)
	}
	defer f.Close()

	var fixes []Fix
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		switch sentence.DataType() {
		case nmea.TypeRMC:
			m := sentence.(nmea.RMC)
			if m.Validity != nmea.ValidRMC {
				continue
			}
			speed := m.Speed * knotsToMps
			heading := m.Course
			fixes = append(fixes, Fix{
				Timestamp: rmcTime(m),
				Latitude:  m.Latitude,
				Longitude: m.Longitude,
				Accuracy:  10,
				Speed:     &speed,
				Heading:   &heading,
			})
		case nmea.TypeGGA:
			if len(fixes) == 0 {
				continue
			}
			m := sentence.(nmea.GGA)
			last := &fixes[len(fixes)-1]
			alt := m.Altitude
			last.Altitude = &alt
			if m.HDOP > 0 {
				// Rough horizontal accuracy from dilution of precision.
				last.Accuracy = m.HDOP * 5
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read NMEA log: %w", err)
	}
	return fixes, nil
}

func rmcTime(m nmea.RMC) time.Time {
	if !m.Date.Valid || !m.Time.Valid {
		return time.Now()
	}
	return time.Date(
		2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second,
		m.Time.Millisecond*int(time.Millisecond), time.UTC,
	)
}
