package perfmon

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// readMemoryStats takes a point-in-time snapshot of process memory.
// HeapUsed/HeapTotal come from the runtime; External is the off-heap
// share of runtime-managed memory; RSS is read from the kernel where
// available. Must stay cheap and non-blocking: it runs on every
// snapshot request.
func readMemoryStats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var external uint64
	if ms.Sys > ms.HeapSys {
		external = ms.Sys - ms.HeapSys
	}

	return MemoryStats{
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
		External:  external,
		RSS:       processRSS(),
	}
}

// processRSS returns the resident set size in bytes, or 0 where the
// platform does not expose it.
func processRSS() uint64 {
	// /proc/self/status is Linux-only; other platforms report 0.
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return kb * 1024
			}
		}
	}
	return 0
}
