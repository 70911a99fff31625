package constraint

import (
	"context"
	"net"
)

// HostProbes returns the default device state probes for the polling
// fallback: network via interface state, power via the platform power
// supply, storage via free space on the download directory.
func HostProbes(downloadDir string, minFreeBytes int64) Probes {
	return Probes{
		Network: networkProbe,
		Power:   powerProbe,
		Storage: storageProbe(downloadDir, minFreeBytes),
	}
}

// networkProbe reports connectivity from interface state. Meteredness is not
// observable portably, so a connected network is assumed unmetered; a native
// Tracker should be supplied where metered detection matters.
func networkProbe(_ context.Context) (connected, unmetered bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}

		return true, true
	}

	return false, false
}
