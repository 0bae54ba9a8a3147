package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var clockTicksPerSecond = 100.0 // sysconf(_SC_CLK_TCK) on Linux, effectively always 100

// readProcStats returns (cpuPercent, residentMB) for pid by reading
// /proc/<pid>/stat and /proc/<pid>/status. cpuPercent is a point-in-time
// estimate over process lifetime, not a windowed average — acceptable for
// a pull-only collector that retains no history (spec §4.7).
func readProcStats(pid int) (cpuPercent float64, residentMB int64, err error) {
	statBytes, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, fmt.Errorf("read /proc/%d/stat: %w", pid, err)
	}
	fields := strings.Fields(string(statBytes))
	if len(fields) < 22 {
		return 0, 0, fmt.Errorf("unexpected /proc/%d/stat format", pid)
	}
	utime, _ := strconv.ParseFloat(fields[13], 64)
	stime, _ := strconv.ParseFloat(fields[14], 64)
	starttime, _ := strconv.ParseFloat(fields[21], 64)

	uptimeBytes, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, 0, fmt.Errorf("read /proc/uptime: %w", err)
	}
	uptimeFields := strings.Fields(string(uptimeBytes))
	uptime, _ := strconv.ParseFloat(uptimeFields[0], 64)

	elapsed := uptime - (starttime / clockTicksPerSecond)
	if elapsed <= 0 {
		elapsed = 1
	}
	totalTime := (utime + stime) / clockTicksPerSecond
	cpuPercent = (totalTime / elapsed) * 100

	residentMB, err = readResidentMB(pid)
	if err != nil {
		return cpuPercent, 0, err
	}
	return cpuPercent, residentMB, nil
}

func readResidentMB(pid int) (int64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, fmt.Errorf("open /proc/%d/status: %w", pid, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					return 0, fmt.Errorf("parse VmRSS: %w", err)
				}
				return kb / 1024, nil
			}
		}
	}
	return 0, fmt.Errorf("VmRSS not found in /proc/%d/status", pid)
}

// dirSizeBytes sums the apparent size of every regular file under dir.
func dirSizeBytes(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	return total, nil
}
