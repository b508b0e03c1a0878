package monitor

import (
	"fmt"

	"github.com/mdlayher/wifi"
)

// Interface describes a wireless interface available for capture.
type Interface struct {
	Name    string `json:"name"`
	MAC     string `json:"mac"`
	Type    string `json:"type"`
	PHY     int    `json:"phy"`
	Monitor bool   `json:"monitor"`
}

// Lister enumerates wireless interfaces.
type Lister interface {
	Interfaces() ([]Interface, error)
}

// NL80211Lister lists interfaces over nl80211.
type NL80211Lister struct{}

// Interfaces returns the named wireless interfaces known to the kernel.
func (NL80211Lister) Interfaces() ([]Interface, error) {
	c, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("open nl80211: %w", err)
	}
	defer c.Close()

	ifis, err := c.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list wireless interfaces: %w", err)
	}

	out := make([]Interface, 0, len(ifis))
	for _, ifi := range ifis {
		// P2P devices and other netdev-less entries have no name.
		if ifi.Name == "" {
			continue
		}
		mac := ""
		if ifi.HardwareAddr != nil {
			mac = ifi.HardwareAddr.String()
		}
		out = append(out, Interface{
			Name:    ifi.Name,
			MAC:     mac,
			Type:    ifi.Type.String(),
			PHY:     ifi.PHY,
			Monitor: ifi.Type == wifi.InterfaceTypeMonitor || IsMonitor(ifi.Name),
		})
	}
	return out, nil
}

// StaticLister returns a fixed interface list. Used when nl80211 is
// unavailable and in tests.
type StaticLister []Interface

func (s StaticLister) Interfaces() ([]Interface, error) {
	out := make([]Interface, len(s))
	copy(out, s)
	return out, nil
}
