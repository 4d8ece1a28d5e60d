package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceOrdinal(t *testing.T) {
	for device, want := range map[string]int{
		"TPU:7":       7,
		"CPU:0":       0,
		"TPU:0:CPU:9": 9,
	} {
		ordinal, err := DeviceOrdinal(device)
		require.NoErrorf(t, err, "device %q", device)
		require.Equalf(t, want, ordinal, "device %q", device)
	}

	for _, device := range []string{"TPU", "TPU:", "TPU:abc", ""} {
		_, err := DeviceOrdinal(device)
		require.ErrorIsf(t, err, ErrMalformedDevice, "device %q", device)
	}
}

func TestCompilationDevices(t *testing.T) {
	devices := CompilationDevices("TPU:0", nil)
	require.Equal(t, []string{"TPU:0"}, devices)

	replicas := []string{"TPU:1", "TPU:2"}
	devices = CompilationDevices("TPU:0", replicas)
	require.Equal(t, replicas, devices)
}
