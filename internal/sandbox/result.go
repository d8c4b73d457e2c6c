package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

type runnerPayload struct {
	Success   bool    `json:"success"`
	Output    string  `json:"output"`
	Error     *string `json:"error"`
	SessionID *string `json:"session_id"`
	Turns     int     `json:"turns"`
	Completed bool    `json:"completed"`
}

// ParseOutput builds a result from the runner's stdout. The runner prints its
// payload last, so only the final ResultMarker counts. Without a readable
// payload the exit code decides success and stdout is returned as is.
func ParseOutput(stdout, stderr string, exitCode int) Result {
	if idx := strings.LastIndex(stdout, ResultMarker); idx >= 0 {
		var payload runnerPayload
		dec := json.NewDecoder(strings.NewReader(stdout[idx+len(ResultMarker):]))
		if err := dec.Decode(&payload); err == nil {
			res := Result{
				Success:   payload.Success,
				Output:    payload.Output,
				ExitCode:  exitCode,
				Turns:     payload.Turns,
				Completed: payload.Completed,
				Stderr:    stderr,
			}
			if payload.Error != nil {
				res.Error = *payload.Error
			}
			if payload.SessionID != nil {
				res.SessionID = *payload.SessionID
			}
			return res
		}
	}

	res := Result{
		Success:  exitCode == 0,
		Output:   stdout,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
	if exitCode != 0 {
		res.Error = "Execution failed"
		if s := strings.TrimSpace(stderr); s != "" {
			res.Error = s
		}
	}
	return res
}

// ApplyTermination marks a result killed by a signal or by the memory limit.
// sig is 0 when the process exited normally; exit codes above 128 are read as
// 128+signal.
func ApplyTermination(res *Result, sig int, oomKilled bool) {
	if sig == 0 && res.ExitCode > 128 {
		sig = res.ExitCode - 128
	}
	if sig == 0 && !oomKilled {
		return
	}
	if sig != 0 {
		res.Signal = SignalName(sig)
	}
	res.OOMKilled = oomKilled || res.ExitCode == 137
	res.Success = false
	name := res.Signal
	if name == "" {
		name = "SIGKILL"
	}
	res.Error = fmt.Sprintf("Execution terminated by resource limit (%s)", name)
}

var signalNames = map[int]string{
	1: "SIGHUP", 2: "SIGINT", 3: "SIGQUIT", 4: "SIGILL", 5: "SIGTRAP", 6: "SIGABRT",
	7: "SIGBUS", 8: "SIGFPE", 9: "SIGKILL", 10: "SIGUSR1", 11: "SIGSEGV", 12: "SIGUSR2",
	13: "SIGPIPE", 14: "SIGALRM", 15: "SIGTERM", 24: "SIGXCPU", 25: "SIGXFSZ", 31: "SIGSYS",
}

// SignalName returns the conventional Linux name of a signal number.
func SignalName(sig int) string {
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return fmt.Sprintf("signal %d", sig)
}

// TimeoutResult is returned when the watchdog killed the execution.
func TimeoutResult(limits Limits) Result {
	return Result{
		Success:  false,
		TimedOut: true,
		ExitCode: -1,
		Error:    fmt.Sprintf("Execution timed out after %d seconds", limits.TimeoutSeconds),
	}
}
