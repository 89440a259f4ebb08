package cmd

import (
	"fmt"
	"strconv"

	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/internal/host"
)

func init() {
	RegisterCommand(&Command{
		Name:  "replay",
		Short: "Print position fixes parsed from an NMEA log",
		Long: `Parse an NMEA sentence log and print the fixes geosim would serve.

Only RMC sentences with a valid status contribute fixes. Use this to
sanity-check a recorded track before serving it.

Flags:
  --nmea FILE      NMEA sentence log to parse (required)
  --limit N        Stop after N fixes (default: all)`,
		Usage: "geosim replay --nmea FILE [--limit N]",
		Run:   runReplay,
	})
}

func runReplay(args []string) error {
	var file string
	limit := 0

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--nmea":
			if i+1 >= len(args) {
				return fmt.Errorf("--nmea requires a value")
			}
			i++
			file = args[i]
		case "--limit":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid --limit value: %s", args[i])
			}
			limit = n
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if file == "" {
		return fmt.Errorf("--nmea is required\n\nUsage: geosim replay --nmea FILE [--limit N]")
	}

	fixes, err := host.LoadNMEAFixes(file)
	if err != nil {
		return err
	}
	if len(fixes) == 0 {
		return fmt.Errorf("no valid RMC fixes in %s", file)
	}

	count := len(fixes)
	if limit > 0 && limit < count {
		count = limit
	}
	for _, fix := range fixes[:count] {
		line := fmt.Sprintf("%s  lat=%.6f lon=%.6f", fix.Timestamp.Format("15:04:05"), fix.Latitude, fix.Longitude)
		if fix.Speed != nil {
			line += fmt.Sprintf(" speed=%.1fm/s", *fix.Speed)
		}
		if fix.Heading != nil {
			line += fmt.Sprintf(" heading=%.0f°", *fix.Heading)
		}
		fmt.Println(line)
	}
	fmt.Printf("%d fixes (%d shown)\n", len(fixes), count)
	return nil
}
