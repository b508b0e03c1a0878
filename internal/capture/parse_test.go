package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObservations(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Observation
	}{
		{
			name:  "empty",
			input: "",
			want:  []Observation{},
		},
		{
			name:  "json array",
			input: `[{"bssid":"AA:BB:CC:DD:EE:01","rssi":-40},{"bssid":"aa:bb:cc:dd:ee:02","rssi":"-71"}]`,
			want: []Observation{
				{MACAddress: "aa:bb:cc:dd:ee:01", SignalStrength: -40},
				{MACAddress: "aa:bb:cc:dd:ee:02", SignalStrength: -71},
			},
		},
		{
			name: "ndjson skips invalid lines",
			input: strings.Join([]string{
				`{"bssid":"aa:bb:cc:dd:ee:01","rssi":-50}`,
				`not json at all`,
				`{"bssid":"zz:zz","rssi":-10}`,
				`{"bssid":"aa:bb:cc:dd:ee:03"}`,
				`{"macAddress":"aa:bb:cc:dd:ee:04","signalStrength":-60}`,
			}, "\n"),
			want: []Observation{
				{MACAddress: "aa:bb:cc:dd:ee:01", SignalStrength: -50},
				{MACAddress: "aa:bb:cc:dd:ee:04", SignalStrength: -60},
			},
		},
		{
			name: "duplicates keep strongest",
			input: strings.Join([]string{
				`{"bssid":"aa:bb:cc:dd:ee:01","rssi":-80}`,
				`{"bssid":"aa:bb:cc:dd:ee:02","rssi":-30}`,
				`{"bssid":"AA:BB:CC:DD:EE:01","rssi":-45}`,
				`{"bssid":"aa:bb:cc:dd:ee:01","rssi":-90}`,
			}, "\n"),
			want: []Observation{
				{MACAddress: "aa:bb:cc:dd:ee:01", SignalStrength: -45},
				{MACAddress: "aa:bb:cc:dd:ee:02", SignalStrength: -30},
			},
		},
		{
			name: "airodump csv",
			input: strings.Join([]string{
				"",
				"BSSID, First time seen, Last time seen, channel, Speed, Privacy, Cipher, Authentication, Power, # beacons, # IV, LAN IP, ID-length, ESSID, Key",
				"00:11:22:33:44:55, 2024-01-01 10:00:00, 2024-01-01 10:00:05,  6,  54, WPA2, CCMP, PSK, -62,       10,        0,   0.  0.  0.  0,   4, home, ",
				"00:11:22:33:44:66, 2024-01-01 10:00:00, 2024-01-01 10:00:05, 11,  54, WPA2, CCMP, PSK,  -1,        3,        0,   0.  0.  0.  0,   0, , ",
				"",
				"Station MAC, First time seen, Last time seen, Power, # packets, BSSID, Probed ESSIDs",
				"66:55:44:33:22:11, 2024-01-01 10:00:00, 2024-01-01 10:00:05, -70,       12, 00:11:22:33:44:55, ",
			}, "\n"),
			want: []Observation{
				{MACAddress: "00:11:22:33:44:55", SignalStrength: -62},
			},
		},
		{
			name: "airodump csv with quoted fields",
			input: strings.Join([]string{
				"BSSID, First time seen, Last time seen, channel, Speed, Privacy, Cipher, Authentication, Power, # beacons, # IV, LAN IP, ID-length, ESSID, Key",
				`00:11:22:33:44:77, 2024-01-01 10:00:00, 2024-01-01 10:00:05,  1,  54, "WPA2,WPA", CCMP, PSK, -48,  7,  0,   0.  0.  0.  0,  14, "cafe, upstairs", `,
			}, "\n"),
			want: []Observation{
				{MACAddress: "00:11:22:33:44:77", SignalStrength: -48},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseObservations(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bssid":"aa:bb:cc:dd:ee:ff","rssi":-55}`+"\n"), 0o600))

	got, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, []Observation{{MACAddress: "aa:bb:cc:dd:ee:ff", SignalStrength: -55}}, got)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
