package nn

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownDevice is returned for device strings that are neither cpu nor cuda
var ErrUnknownDevice = errors.New("unknown device")

// Device describes where tensors live. Only the CPU executes; accelerator
// requests are recorded and served by the CPU.
type Device struct {
	Requested string
	Kind      string // "cpu" or "cuda"
	Index     int
}

// Fallback reports whether an accelerator was requested but the CPU is used
func (d Device) Fallback() bool {
	return d.Kind != "cpu"
}

func (d Device) String() string {
	return d.Requested
}

// ParseDevice parses "cpu", "cuda" or "cuda:N"
func ParseDevice(s string) (Device, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch {
	case name == "cpu":
		return Device{Requested: s, Kind: "cpu"}, nil
	case name == "cuda":
		return Device{Requested: s, Kind: "cuda"}, nil
	case strings.HasPrefix(name, "cuda:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "cuda:"))
		if err != nil || idx < 0 {
			return Device{}, errors.Wrapf(ErrUnknownDevice, "bad device index in %q", s)
		}
		return Device{Requested: s, Kind: "cuda", Index: idx}, nil
	default:
		return Device{}, errors.Wrapf(ErrUnknownDevice, "%q", s)
	}
}
