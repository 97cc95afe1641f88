package ixsim

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const stderrTailBytes = 64 * 1024

var convergenceDiagnostics = []string{
	"has not converged",
	"Numerical method failed",
	"Too many iterations in calc_psi_avg",
}

// Runner spawns the PHREEQC executable as a child process and
// supervises it end to end: scoped temp-directory acquisition,
// wall-clock timeout, output capture. Grounded on the teacher's
// subprocess-supervision pattern (spawnSlave: exec.Command, dedicated
// log files, explicit timeout, kill-on-error) generalized from a
// persistent worker pool to one-shot invocation per simulation.
type Runner struct {
	ExecutablePath string
	Timeout        time.Duration
	Log            *logrus.Logger
}

// NewRunner constructs a Runner with the given executable path and
// timeout. A nil logger falls back to logrus.StandardLogger().
func NewRunner(execPath string, timeout time.Duration, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &Runner{ExecutablePath: execPath, Timeout: timeout, Log: log}
}

// Run executes one PHREEQC invocation: writes the script to a scoped
// temporary directory, spawns the process with three file arguments
// (input, output, database), and parses SELECTED_OUTPUT on success.
// The temporary directory is released on every exit path, including
// timeout, cancellation, and panic.
func (r *Runner) Run(ctx context.Context, script Script, database string) (RunArtifacts, error) {
	if _, err := os.Stat(r.ExecutablePath); err != nil {
		return RunArtifacts{}, wrapErr(KindNotInstalled, "set PHREEQC_EXE to a valid PHREEQC binary path", err, "phreeqc executable not found at %q", r.ExecutablePath)
	}

	dir, err := os.MkdirTemp("", "ixsim-run-*")
	if err != nil {
		return RunArtifacts{}, wrapErr(KindExecutionIO, "", err, "failed to create scoped temp directory")
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input.pqi")
	outputPath := filepath.Join(dir, "output.sel")
	databasePath := database

	if err := os.WriteFile(inputPath, []byte(script.Text), 0o644); err != nil {
		return RunArtifacts{}, wrapErr(KindExecutionIO, "", err, "failed to write PHREEQC input deck")
	}

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.ExecutablePath, inputPath, outputPath, databasePath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Start()
	if err != nil {
		return RunArtifacts{}, wrapErr(KindNotInstalled, "", err, "failed to start phreeqc process")
	}

	waitErr := cmd.Wait()
	duration := time.Since(start).Seconds()

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return RunArtifacts{
			Stdout:   stdout.String(),
			Stderr:   tailBytes(stderr.String(), stderrTailBytes),
			Duration: duration,
		}, newErr(KindTimeout, "increase MCP_SIMULATION_TIMEOUT_S or simplify the scenario", "phreeqc did not complete within %s", r.Timeout)
	}
	if runCtx.Err() == context.Canceled {
		killProcessGroup(cmd)
		return RunArtifacts{}, newErr(KindCanceled, "", "simulation canceled")
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return RunArtifacts{}, wrapErr(KindNotInstalled, "", waitErr, "phreeqc process failed to run")
		}
	}

	tail := tailBytes(stderr.String(), stderrTailBytes)
	truncated := len(stderr.String()) > stderrTailBytes

	if exitCode != 0 {
		r.Log.WithFields(logrus.Fields{"exit_code": exitCode, "duration_s": duration}).Error("phreeqc exited non-zero")
		if kind := recognizeConvergenceFailure(tail); kind != "" {
			return RunArtifacts{Stderr: tail, StderrTruncated: truncated, ExitCode: exitCode, Duration: duration},
				&Error{Kind: kind, Message: "phreeqc reported a convergence failure", Hint: "increase cells for Na-form; verify resin selectivity log-K values", Wrapped: &Error{Kind: KindNonZeroExit, Message: tail}}
		}
		return RunArtifacts{Stderr: tail, StderrTruncated: truncated, ExitCode: exitCode, Duration: duration},
			&Error{Kind: KindNonZeroExit, Message: "phreeqc exited with a non-zero status", Hint: "check stderr tail for the failure diagnostic"}
	}

	rows, dropped, err := parseSelectedOutput(outputPath)
	if err != nil {
		return RunArtifacts{Stdout: stdout.String(), Stderr: tail, ExitCode: exitCode, Duration: duration}, err
	}

	return RunArtifacts{
		Stdout:          stdout.String(),
		Stderr:          tail,
		StderrTruncated: truncated,
		SelectedOutput:  rows,
		DroppedRows:     dropped,
		ExitCode:        exitCode,
		Duration:        duration,
	}, nil
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func recognizeConvergenceFailure(stderrTail string) Kind {
	for _, diag := range convergenceDiagnostics {
		if strings.Contains(stderrTail, diag) {
			return KindNotConverged
		}
	}
	return ""
}

// parseSelectedOutput reads the whitespace-delimited SELECTED_OUTPUT
// table. Rows that do not match the header's column cardinality are
// dropped and counted rather than failing the whole parse.
func parseSelectedOutput(path string) ([]SelectedOutputRow, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, wrapErr(KindMalformedOutput, "", err, "failed to read SELECTED_OUTPUT file")
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 1 {
		return nil, 0, newErr(KindMalformedOutput, "", "SELECTED_OUTPUT file is empty")
	}
	header := strings.Fields(lines[0])
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(h)] = i
	}
	required := []string{"shift", "bv", "ca_mg_l", "mg_mg_l", "na_mg_l", "k_mg_l", "hardness_mg_l_caco3", "co2_mg_l"}
	for _, req := range required {
		if _, ok := col[req]; !ok {
			return nil, 0, newErr(KindMissingColumn, "", "SELECTED_OUTPUT is missing required column %q", req)
		}
	}

	rows := make([]SelectedOutputRow, 0, len(lines)-1)
	dropped := 0
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) != len(header) {
			dropped++
			continue
		}
		row, ok := parseRow(fields, col)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped, nil
}

func parseRow(fields []string, col map[string]int) (SelectedOutputRow, bool) {
	get := func(name string) (float64, bool) {
		idx, ok := col[name]
		if !ok || idx >= len(fields) {
			return 0, false
		}
		v, err := strconv.ParseFloat(fields[idx], 64)
		return v, err == nil
	}
	getInt := func(name string) (int, bool) {
		v, ok := get(name)
		return int(v), ok
	}

	var row SelectedOutputRow
	var ok bool
	if row.Shift, ok = getInt("shift"); !ok {
		return row, false
	}
	if row.BV, ok = get("bv"); !ok {
		return row, false
	}
	if row.CaMgL, ok = get("ca_mg_l"); !ok {
		return row, false
	}
	if row.MgMgL, ok = get("mg_mg_l"); !ok {
		return row, false
	}
	if row.NaMgL, ok = get("na_mg_l"); !ok {
		return row, false
	}
	if row.KMgL, ok = get("k_mg_l"); !ok {
		return row, false
	}
	row.PH, _ = get("ph")
	row.AlkMgLCaCO3, _ = get("alk_mg_l_caco3")
	if row.HardnessMgLCaCO3, ok = get("hardness_mg_l_caco3"); !ok {
		return row, false
	}
	if row.CO2MgL, ok = get("co2_mg_l"); !ok {
		return row, false
	}
	if idx, present := col["phase"]; present && idx < len(fields) {
		row.Phase = fields[idx]
	}
	return row, true
}
