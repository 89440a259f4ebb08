// Command geosim runs a simulated location host for developing against the
// geolocation plugin without a real device.
package main

import (
	"os"

	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
