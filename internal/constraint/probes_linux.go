//go:build linux

package constraint

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const powerSupplyDir = "/sys/class/power_supply"

// powerProbe reports whether external power is connected by reading the
// sysfs power supply tree. Reports true when the tree is unreadable so
// machines without a battery never wait for power.
func powerProbe(_ context.Context) bool {
	entries, err := os.ReadDir(powerSupplyDir)
	if err != nil {
		return true
	}

	sawSupply := false

	for _, entry := range entries {
		raw, err := os.ReadFile(filepath.Join(powerSupplyDir, entry.Name(), "online"))
		if err != nil {
			continue
		}

		sawSupply = true

		if strings.TrimSpace(string(raw)) == "1" {
			return true
		}
	}

	return !sawSupply
}

// storageProbe reports whether the filesystem holding dir has at least
// minFreeBytes available. Reports true when the read fails; the fetcher
// still surfaces a dedicated out-of-storage failure if space runs out
// mid-download.
func storageProbe(dir string, minFreeBytes int64) func(ctx context.Context) bool {
	return func(_ context.Context) bool {
		var stat unix.Statfs_t
		if err := unix.Statfs(dir, &stat); err != nil {
			return true
		}

		free := int64(stat.Bavail) * stat.Bsize

		return free >= minFreeBytes
	}
}
