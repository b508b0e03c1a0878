package capture

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// rawAccessPoint is one record written by the capture tool. The tool emits
// "bssid"/"rssi"; records already in wire form use macAddress/signalStrength.
type rawAccessPoint struct {
	BSSID          string          `json:"bssid"`
	RSSI           json.RawMessage `json:"rssi"`
	MACAddress     string          `json:"macAddress"`
	SignalStrength json.RawMessage `json:"signalStrength"`
}

func (r rawAccessPoint) observation() (Observation, bool) {
	mac, sig := r.BSSID, r.RSSI
	if mac == "" {
		mac, sig = r.MACAddress, r.SignalStrength
	}
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return Observation{}, false
	}
	n, ok := parseSignal(strings.Trim(string(sig), `" `))
	if !ok {
		return Observation{}, false
	}
	return Observation{MACAddress: hw.String(), SignalStrength: n}, true
}

func parseSignal(s string) (int, bool) {
	if s == "" || s == "null" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// ParseFile reads observations from a capture output file.
func ParseFile(path string) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseObservations(f)
}

// ParseObservations decodes capture output. Accepted forms are a JSON array
// of access point objects, newline-delimited JSON objects, and airodump-ng
// CSV. Unparseable records are skipped. When a BSSID appears more than once
// the strongest signal wins; first-seen order is kept.
func ParseObservations(r io.Reader) ([]Observation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read capture output: %w", err)
	}

	var obs []Observation
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var raws []rawAccessPoint
		if err := json.Unmarshal(trimmed, &raws); err == nil {
			for _, raw := range raws {
				if o, ok := raw.observation(); ok {
					obs = append(obs, o)
				}
			}
			return dedupe(obs), nil
		}
		// Not a single array; fall through to line mode.
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	powerCol := -1
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "{"):
			var raw rawAccessPoint
			if err := json.Unmarshal([]byte(line), &raw); err != nil {
				continue
			}
			if o, ok := raw.observation(); ok {
				obs = append(obs, o)
			}
		case strings.HasPrefix(line, "BSSID,"):
			powerCol = csvColumn(line, "Power")
		case strings.HasPrefix(line, "Station MAC,"):
			// Client section of airodump output; stations are not access points.
			powerCol = -1
		case powerCol > 0:
			if o, ok := csvObservation(line, powerCol); ok {
				obs = append(obs, o)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan capture output: %w", err)
	}
	return dedupe(obs), nil
}

// csvFields splits one CSV record. airodump pads fields with spaces and
// may quote ESSIDs that contain commas.
func csvFields(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil
	}
	return fields
}

func csvColumn(header, name string) int {
	for i, f := range csvFields(header) {
		if strings.TrimSpace(f) == name {
			return i
		}
	}
	return -1
}

func csvObservation(line string, powerCol int) (Observation, bool) {
	fields := csvFields(line)
	if len(fields) <= powerCol {
		return Observation{}, false
	}
	hw, err := net.ParseMAC(strings.TrimSpace(fields[0]))
	if err != nil {
		return Observation{}, false
	}
	power, ok := parseSignal(strings.TrimSpace(fields[powerCol]))
	// airodump reports -1 when the driver gives no signal level.
	if !ok || power == -1 {
		return Observation{}, false
	}
	return Observation{MACAddress: hw.String(), SignalStrength: power}, true
}

func dedupe(obs []Observation) []Observation {
	out := make([]Observation, 0, len(obs))
	index := make(map[string]int, len(obs))
	for _, o := range obs {
		if i, seen := index[o.MACAddress]; seen {
			if o.SignalStrength > out[i].SignalStrength {
				out[i] = o
			}
			continue
		}
		index[o.MACAddress] = len(out)
		out = append(out, o)
	}
	return out
}
