package utils

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
)

// CheckDiskSpace fails when dir's filesystem has less than need bytes free.
// Probe failures are logged and ignored.
func CheckDiskSpace(dir string, need int64) error {
	if need <= 0 {
		return nil
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		log := GetLogger("disk")
		log.Debug().Err(err).Str("dir", dir).Msg("Unable to probe free disk space")
		return nil
	}
	if usage.Free < uint64(need) {
		return fmt.Errorf("%w: need %s in %s but only %s is free", ErrFilesystem, FormatBytes(uint64(need)), dir, FormatBytes(usage.Free))
	}
	return nil
}

// AutoWorkers picks a worker count from the number of logical CPUs.
func AutoWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return DefaultWorkers
	}
	return min(max(n*2, 4), 32)
}
