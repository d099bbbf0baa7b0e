package runner

import (
	"fmt"
	"strings"
)

// FixedTimeZone pins every test to the same zone so time-sensitive tests are deterministic
const FixedTimeZone = "EST5EDT,M3.2.0,M11.1.0"

// RunDirEnvVar tells the test where its run directory is
const RunDirEnvVar = "TEST_RUNDIR"

// Environment describes the variables injected into every test process
type Environment struct {
	LuaPath    []string // prepended to LUA_PATH, ';' separated
	LuaCPath   []string // prepended to LUA_CPATH, ';' separated
	RubyLib    []string // prepended to RUBYLIB, ':' separated
	PythonPath []string // prepended to PYTHONPATH, ':' separated
	Extra      []string // KEY=VALUE pairs, applied last
}

// Build returns base plus the test variables. Later entries override earlier
// ones when the child starts, so base values are never removed here.
func (e Environment) Build(base []string, runDir string) []string {
	env := append([]string(nil), base...)
	lookup := func(key string) string {
		prefix := key + "="
		value := ""
		for _, kv := range base {
			if strings.HasPrefix(kv, prefix) {
				value = kv[len(prefix):]
			}
		}
		return value
	}
	prepend := func(key, sep string, paths []string) {
		if len(paths) == 0 {
			return
		}
		value := strings.Join(paths, sep)
		if existing := lookup(key); existing != "" {
			value = value + sep + existing
		}
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	env = append(env,
		"TZ="+FixedTimeZone,
		RunDirEnvVar+"="+runDir,
	)
	prepend("LUA_PATH", ";", e.LuaPath)
	prepend("LUA_CPATH", ";", e.LuaCPath)
	prepend("RUBYLIB", ":", e.RubyLib)
	prepend("PYTHONPATH", ":", e.PythonPath)
	env = append(env, e.Extra...)
	return env
}
