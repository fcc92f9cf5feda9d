// Package sysinfo reads OS memory and filesystem statistics for resource
// accounting. All values are best-effort byte counts.
package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const procMeminfo = "/proc/meminfo"

// TotalRAM returns the total physical memory in bytes.
func TotalRAM() (uint64, error) {
	var info unix.Sysinfo_t

	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}

	return uint64(info.Totalram) * uint64(info.Unit), nil
}

// AvailableRAM returns an estimate of the memory available for new
// allocations in bytes.
//
// It prefers the kernel's MemAvailable counter from /proc/meminfo, which
// accounts for reclaimable page cache. Plain free memory is only a
// fallback: on a busy machine most "used" memory is cache and free memory
// stays near zero.
func AvailableRAM() (uint64, error) {
	if avail, err := memAvailable(); err == nil {
		return avail, nil
	}

	var info unix.Sysinfo_t

	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}

	return uint64(info.Freeram) * uint64(info.Unit), nil
}

// memAvailable parses the MemAvailable line from /proc/meminfo.
// Values there are in kB.
func memAvailable() (uint64, error) {
	file, err := os.Open(procMeminfo)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", procMeminfo, err)
	}

	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		after, ok := strings.CutPrefix(line, "MemAvailable:")
		if !ok {
			continue
		}

		fields := strings.Fields(after)
		if len(fields) == 0 {
			break
		}

		kb, parseErr := strconv.ParseUint(fields[0], 10, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("parsing MemAvailable: %w", parseErr)
		}

		return kb * 1024, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading %s: %w", procMeminfo, err)
	}

	return 0, fmt.Errorf("%s: no MemAvailable line", procMeminfo)
}

// FilesystemStats returns the capacity and available bytes of the
// filesystem containing path, as seen by an unprivileged caller.
func FilesystemStats(path string) (capacity, available uint64, err error) {
	var stat unix.Statfs_t

	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)

	return stat.Blocks * bsize, stat.Bavail * bsize, nil
}
