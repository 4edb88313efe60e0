package risk

import "testing"

func ev(ip, device, browser string) Event {
	return Event{IP: ip, Device: device, Browser: browser}
}

func TestFirstLoginNeverEscalates(t *testing.T) {
	a := Assess(ev("10.0.0.9", "iOS iPhone", "Safari"), nil)
	if a.Level != 0 {
		t.Fatalf("expected level 0 on first login, got %d", a.Level)
	}
	if a.Flags != (Flags{}) {
		t.Fatalf("expected no flags, got %+v", a.Flags)
	}
}

func TestKnownIPAndBrowserScoresZero(t *testing.T) {
	history := []Event{ev("A", DesktopDevice, "Chrome")}
	a := Assess(ev("A", DesktopDevice, "Chrome"), history)
	if a.Level != 0 {
		t.Fatalf("expected level 0, got %d", a.Level)
	}
}

func TestNewIPAndBrowserWithTwoOtherDevicesScoresThree(t *testing.T) {
	history := []Event{
		ev("A", DesktopDevice, "Chrome"),
		ev("A", "iOS iPhone", "Chrome"),
	}
	a := Assess(ev("B", "Android Pixel 7", "Firefox"), history)
	if a.Level != 3 {
		t.Fatalf("expected level 3, got %d", a.Level)
	}
	if !a.Flags.IP || !a.Flags.Browser || !a.Flags.Device {
		t.Fatalf("expected all flags, got %+v", a.Flags)
	}
	if !a.Blocked(3) {
		t.Fatal("expected level 3 to be blocked at threshold 3")
	}
}

func TestSingleOtherDeviceDoesNotEscalate(t *testing.T) {
	history := []Event{
		ev("A", DesktopDevice, "Chrome"),
		ev("A", DesktopDevice, "Chrome"),
		ev("A", DesktopDevice, "Chrome"),
	}
	a := Assess(ev("A", "iOS iPhone", "Chrome"), history)
	if a.Level != 0 || a.Flags.Device {
		t.Fatalf("one other device class must not escalate, got %+v", a)
	}
}

func TestRepeatedRowsOfOneDeviceCountOnce(t *testing.T) {
	history := []Event{
		ev("A", "iOS iPhone", "Safari"),
		ev("A", "ios iphone", "Safari"),
	}
	a := Assess(ev("A", DesktopDevice, "Safari"), history)
	if a.Flags.Device {
		t.Fatal("device classes must be compared case-insensitively and deduplicated")
	}
}

func TestNewIPOnlyScoresOne(t *testing.T) {
	history := []Event{ev("A", DesktopDevice, "Chrome")}
	a := Assess(ev("C", DesktopDevice, "Chrome"), history)
	if a.Level != 1 || !a.Flags.IP || a.Flags.Browser {
		t.Fatalf("expected only ip flag at level 1, got %+v", a)
	}
}

func TestClassify(t *testing.T) {
	device, browser := Classify("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	if device != DesktopDevice {
		t.Fatalf("expected desktop device, got %q", device)
	}
	if browser != "Chrome" {
		t.Fatalf("expected Chrome, got %q", browser)
	}

	device, _ = Classify("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	if device == DesktopDevice {
		t.Fatal("expected a handset device class for an iPhone user agent")
	}

	_, browser = Classify("")
	if browser != "Unknown" {
		t.Fatalf("expected Unknown browser for empty agent, got %q", browser)
	}
}
