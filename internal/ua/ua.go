// internal/ua/ua.go
//
// User-Agent parsing helpers.
//
// This wrapper isolates `github.com/avct/uasurfer` so the rest of the
// codebase never sees its enums.  The console only needs enough to tell
// an agent’s browser from a bot or a scripted client in the access log.
package ua

import (
	"fmt"
	"strconv"
	"strings"

	surfer "github.com/avct/uasurfer"
)

// Info carries the UA attributes recorded per request.
//
// Example (Chrome on macOS):
//
//	Browser   "Chrome"
//	Version   "125.0.6422"
//	OS        "MacOSX"
//	OSVersion "10.15.7"
//	Device    "Desktop"
//	IsBot     false
//
// Device is one of "Desktop", "Mobile", "Tablet", or "Other".
type Info struct {
	Browser   string `json:"browser"`
	Version   string `json:"version,omitempty"`
	OS        string `json:"os"`
	OSVersion string `json:"os_version,omitempty"`
	Device    string `json:"device"`
	IsBot     bool   `json:"is_bot"`
}

// Parse converts a raw header into Info.  An empty header yields
// Browser "Unknown" and Device "Other".
func Parse(raw string) Info {
	u := surfer.Parse(raw)

	info := Info{
		Browser:   strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		Version:   versionToString(u.Browser.Version),
		OS:        strings.TrimPrefix(u.OS.Name.String(), "OS"),
		OSVersion: versionToString(u.OS.Version),
		IsBot:     u.IsBot(),
	}

	switch u.DeviceType {
	case surfer.DeviceComputer:
		info.Device = "Desktop"
	case surfer.DeviceTablet:
		info.Device = "Tablet"
	case surfer.DevicePhone, surfer.DeviceWearable:
		info.Device = "Mobile"
	default:
		info.Device = "Other"
	}
	return info
}

// Summary renders "Chrome 125/MacOSX Desktop" for log lines.
func (i Info) Summary() string {
	b := i.Browser
	if i.Version != "" {
		b += " " + strings.SplitN(i.Version, ".", 2)[0]
	}
	return b + "/" + i.OS + " " + i.Device
}

// versionToString renders a version in dotted form while trimming
// trailing zeros, e.g. 17.0.0 → "17", 17.3.0 → "17.3", 17.3.1 → "17.3.1".
func versionToString(v surfer.Version) string {
	if v.Major == 0 && v.Minor == 0 && v.Patch == 0 {
		return ""
	}
	if v.Patch != 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if v.Minor != 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return strconv.Itoa(int(v.Major))
}
