//go:build !windows

package detector

import (
	"bufio"
	"bytes"
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

// StartUnix returns the start time of pid in Unix seconds, or 0 when it
// cannot be determined. Linux reads /proc directly; other systems ask gopsutil.
func StartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		ticks := statStartTicks(pid)
		boot := bootTime()
		if ticks <= 0 || boot <= 0 {
			return 0
		}
		return boot + ticks/clockTicks()
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// statStartTicks reads starttime, field 22 of /proc/<pid>/stat. The comm
// field may contain spaces, so fields are counted after its closing paren.
func statStartTicks(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return 0
	}
	fields := strings.Fields(string(b[i+1:]))
	const startField = 22 - 3 // pid and comm precede, fields are 1-based
	if len(fields) <= startField {
		return 0
	}
	n, err := strconv.ParseInt(fields[startField], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// bootTime is the btime line of /proc/stat.
func bootTime() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			return n
		}
	}
	return 0
}

func clockTicks() int64 {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		return 100
	}
	return clk
}
