package client

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DeviceOrdinal parses the ordinal of a device string: the integer after the last ':', e.g. 7
// for "TPU:7". It fails wrapping ErrMalformedDevice if the string has no ':' or what follows
// the last one is not an integer.
func DeviceOrdinal(device string) (int, error) {
	pos := strings.LastIndex(device, ":")
	if pos == -1 {
		return 0, errors.Wrapf(ErrMalformedDevice, "device %q has no ordinal separator ':'", device)
	}
	ordinal, err := strconv.Atoi(device[pos+1:])
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedDevice, "device %q ordinal %q is not an integer", device, device[pos+1:])
	}
	return ordinal, nil
}

// CompilationDevices resolves the devices a compilation targets: the devices list when given,
// otherwise just the computation's own device.
func CompilationDevices(device string, devices []string) []string {
	if len(devices) == 0 {
		return []string{device}
	}
	return devices
}
