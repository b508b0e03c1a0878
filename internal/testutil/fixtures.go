package testutil

import (
	"fmt"

	"github.com/HerbHall/geoscout/internal/capture"
)

// Observations returns n distinct access points with signals -40, -45, ...
func Observations(n int) []capture.Observation {
	out := make([]capture.Observation, n)
	for i := range out {
		out[i] = capture.Observation{
			MACAddress:     fmt.Sprintf("02:00:00:00:00:%02x", i+1),
			SignalStrength: -40 - 5*i,
		}
	}
	return out
}

// CaptureOutput renders obs the way the capture binary writes them: one
// JSON object per line with bssid and rssi keys.
func CaptureOutput(obs []capture.Observation) string {
	var out string
	for _, o := range obs {
		out += fmt.Sprintf("{\"bssid\":%q,\"rssi\":%d}\n", o.MACAddress, o.SignalStrength)
	}
	return out
}
