//go:build linux

package resolver

import (
	"os"
	"strings"
)

// ttyKey returns a stable key for the calling process's controlling
// terminal, walked via /proc/<pid>/stat ancestry (field 7, tty_nr, starting
// at this process and stepping to each parent) rather than keyed on a ppid,
// since a ppid key breaks once the parent shell exits and pid 1 reparents
// the process; there is deliberately no ppid fallback.
func ttyKey() string {
	pid := "self"
	for hops := 0; hops < 64; hops++ {
		raw, err := os.ReadFile("/proc/" + pid + "/stat")
		if err != nil {
			return ""
		}
		fields := statFields(string(raw))
		if len(fields) < 7 {
			return ""
		}
		if ttyNr := fields[6]; ttyNr != "0" {
			return "ttynr:" + ttyNr
		}
		pid = fields[3]
		if pid == "0" {
			return ""
		}
	}
	return ""
}

// statFields splits a /proc/<pid>/stat line into its space-separated
// fields, skipping over the "(comm)" field which may itself contain spaces.
func statFields(stat string) []string {
	closeParen := strings.LastIndex(stat, ")")
	if closeParen == -1 {
		return strings.Fields(stat)
	}
	pid := strings.Fields(stat[:strings.Index(stat, "(")])
	rest := strings.Fields(stat[closeParen+1:])
	out := make([]string, 0, len(pid)+1+len(rest))
	out = append(out, pid...)
	out = append(out, "comm")
	out = append(out, rest...)
	return out
}
