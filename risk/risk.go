// Package risk scores a sign-in against the user's recent login history.
//
// Assess is pure: it looks only at the event and the history it is given,
// so callers decide how much history to load and what to do with the level.
package risk

import (
	"strings"
	"time"

	"github.com/mileusna/useragent"
)

// MaxLevel is the highest score Assess returns.
const MaxLevel = 3

// DesktopDevice is the device class used when the user agent names no device.
const DesktopDevice = "Desktop"

// Event is one login as seen by the assessor.
type Event struct {
	IP      string
	Device  string
	Browser string
	Time    time.Time
}

// Flags records which checks raised the score.
type Flags struct {
	IP      bool
	Browser bool
	Device  bool
}

// Assessment is the outcome of Assess.
type Assessment struct {
	Level int
	Flags Flags
	// Current is echoed back so notifications can show what was seen.
	Current Event
}

// Blocked reports whether the level reaches threshold.
func (a Assessment) Blocked(threshold int) bool {
	return threshold > 0 && a.Level >= threshold
}

// Assess scores current against history. A user with no history scores 0.
// The score rises by one for an unseen IP, one for an unseen browser, and
// one when history holds more than one device class other than the current one.
func Assess(current Event, history []Event) Assessment {
	out := Assessment{Current: current}
	if len(history) == 0 {
		return out
	}

	ipSeen, browserSeen := false, false
	otherDevices := make(map[string]struct{})
	for _, h := range history {
		if h.IP == current.IP {
			ipSeen = true
		}
		if strings.EqualFold(h.Browser, current.Browser) {
			browserSeen = true
		}
		if !strings.EqualFold(h.Device, current.Device) {
			otherDevices[strings.ToLower(h.Device)] = struct{}{}
		}
	}

	if !ipSeen {
		out.Flags.IP = true
		out.Level++
	}
	if !browserSeen {
		out.Flags.Browser = true
		out.Level++
	}
	if len(otherDevices) > 1 {
		out.Flags.Device = true
		out.Level++
	}
	if out.Level > MaxLevel {
		out.Level = MaxLevel
	}
	return out
}

// Classify derives the device class and browser family from a user agent.
// The device class is "<os> <model>" for handsets and tablets, otherwise
// DesktopDevice.
func Classify(userAgent string) (device, browser string) {
	ua := useragent.Parse(userAgent)
	browser = ua.Name
	if browser == "" {
		browser = "Unknown"
	}
	device = DesktopDevice
	if ua.Mobile || ua.Tablet {
		if d := strings.TrimSpace(ua.OS + " " + ua.Device); d != "" {
			device = d
		}
	}
	return device, browser
}
