// Package system reads Raspberry Pi health telemetry from procfs/sysfs.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Status is a point-in-time system health report.
type Status struct {
	CPUTempCelsius float64  `json:"cpu_temp_celsius"`
	Load1          float64  `json:"load_1"`
	Load5          float64  `json:"load_5"`
	Load15         float64  `json:"load_15"`
	MemTotalBytes  uint64   `json:"mem_total_bytes"`
	MemFreeBytes   uint64   `json:"mem_available_bytes"`
	DiskTotalBytes uint64   `json:"disk_total_bytes"`
	DiskFreeBytes  uint64   `json:"disk_free_bytes"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	Throttled      bool     `json:"throttled"`
	ThrottleFlags  []string `json:"throttle_flags,omitempty"`
}

// Monitor samples system health. Paths are settable so tests can point it
// at fixture files.
type Monitor struct {
	logger      *slog.Logger
	thermalPath string
	loadPath    string
	meminfoPath string
	uptimePath  string
	diskPath    string
	started     time.Time
}

// NewMonitor builds a monitor reading the standard Pi paths; diskPath is
// the filesystem whose usage is reported.
func NewMonitor(diskPath string, logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:      logger.With("component", "system"),
		thermalPath: "/sys/class/thermal/thermal_zone0/temp",
		loadPath:    "/proc/loadavg",
		meminfoPath: "/proc/meminfo",
		uptimePath:  "/proc/uptime",
		diskPath:    diskPath,
		started:     time.Now(),
	}
}

// Status samples everything once. Individual probes that fail leave their
// fields zero rather than failing the whole report.
func (m *Monitor) Status(ctx context.Context) Status {
	var s Status

	if temp, err := m.cpuTemp(); err == nil {
		s.CPUTempCelsius = temp
	} else {
		m.logger.Debug("reading cpu temperature failed", "error", err)
	}

	if l1, l5, l15, err := m.loadAvg(); err == nil {
		s.Load1, s.Load5, s.Load15 = l1, l5, l15
	}

	if total, avail, err := m.memInfo(); err == nil {
		s.MemTotalBytes, s.MemFreeBytes = total, avail
	}

	if total, free, err := diskUsage(m.diskPath); err == nil {
		s.DiskTotalBytes, s.DiskFreeBytes = total, free
	}

	if up, err := m.uptime(); err == nil {
		s.UptimeSeconds = up
	}

	if flags, err := throttleFlags(ctx); err == nil {
		s.ThrottleFlags = flags
		s.Throttled = len(flags) > 0
	}

	return s
}

// ServiceUptime reports how long the process has been running.
func (m *Monitor) ServiceUptime() time.Duration {
	return time.Since(m.started)
}

func (m *Monitor) cpuTemp() (float64, error) {
	data, err := os.ReadFile(m.thermalPath)
	if err != nil {
		return 0, err
	}
	return parseThermal(string(data))
}

// parseThermal converts the millidegree reading from sysfs.
func parseThermal(s string) (float64, error) {
	milli, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parsing thermal zone: %w", err)
	}
	return float64(milli) / 1000.0, nil
}

func (m *Monitor) loadAvg() (float64, float64, float64, error) {
	data, err := os.ReadFile(m.loadPath)
	if err != nil {
		return 0, 0, 0, err
	}
	return parseLoadAvg(string(data))
}

func parseLoadAvg(s string) (float64, float64, float64, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("malformed loadavg %q", s)
	}
	var loads [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("parsing loadavg: %w", err)
		}
		loads[i] = v
	}
	return loads[0], loads[1], loads[2], nil
}

func (m *Monitor) memInfo() (total, available uint64, err error) {
	data, err := os.ReadFile(m.meminfoPath)
	if err != nil {
		return 0, 0, err
	}
	return parseMemInfo(string(data))
}

// parseMemInfo extracts MemTotal and MemAvailable in bytes.
func parseMemInfo(s string) (total, available uint64, err error) {
	for _, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, perr := strconv.ParseUint(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("MemTotal not found")
	}
	return total, available, nil
}

func (m *Monitor) uptime() (float64, error) {
	data, err := os.ReadFile(m.uptimePath)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed uptime")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func diskUsage(path string) (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}

// Known bits of the vcgencmd get_throttled bitmask.
var throttleBits = []struct {
	bit  uint64
	name string
}{
	{1 << 0, "under_voltage"},
	{1 << 1, "freq_capped"},
	{1 << 2, "throttled"},
	{1 << 3, "soft_temp_limit"},
	{1 << 16, "under_voltage_occurred"},
	{1 << 17, "freq_capped_occurred"},
	{1 << 18, "throttled_occurred"},
	{1 << 19, "soft_temp_limit_occurred"},
}

func throttleFlags(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "vcgencmd", "get_throttled").Output()
	if err != nil {
		return nil, err
	}
	return parseThrottled(string(out))
}

// parseThrottled decodes "throttled=0x50005" style output.
func parseThrottled(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, "=")
	if idx < 0 {
		return nil, fmt.Errorf("malformed throttled output %q", s)
	}
	mask, err := strconv.ParseUint(strings.TrimPrefix(s[idx+1:], "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing throttled mask: %w", err)
	}

	var flags []string
	for _, tb := range throttleBits {
		if mask&tb.bit != 0 {
			flags = append(flags, tb.name)
		}
	}
	return flags, nil
}
