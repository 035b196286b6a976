package capture

import (
	"strconv"
	"strings"
)

// Device describes an audio input device.
type Device struct {
	Index    int
	Name     string
	Channels int
	Default  bool
}

// matchDevice resolves a configured device, given as an index or a
// case-insensitive name fragment. It returns -1 when nothing matches.
func matchDevice(devices []Device, want string) int {
	want = strings.TrimSpace(want)
	if want == "" {
		return -1
	}
	if idx, err := strconv.Atoi(want); err == nil {
		for i, d := range devices {
			if d.Index == idx {
				return i
			}
		}
		return -1
	}
	want = strings.ToLower(want)
	for i, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), want) {
			return i
		}
	}
	return -1
}
