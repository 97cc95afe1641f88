package ixsim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunMissingExecutableIsNotInstalled(t *testing.T) {
	r := NewRunner("/nonexistent/phreeqc-binary", time.Second, nil)
	_, err := r.Run(context.Background(), Script{Text: "TITLE test"}, "phreeqc.dat")
	var ixErr *Error
	if !asError(err, &ixErr) || ixErr.Kind != KindNotInstalled {
		t.Fatalf("expected KindNotInstalled, got %v", err)
	}
}

func TestTailBytesTruncatesFromTheEnd(t *testing.T) {
	s := "0123456789"
	if got := tailBytes(s, 4); got != "6789" {
		t.Errorf("tailBytes = %q, want %q", got, "6789")
	}
	if got := tailBytes(s, 100); got != s {
		t.Errorf("tailBytes should return the input unchanged when under the limit")
	}
}

func TestRecognizeConvergenceFailure(t *testing.T) {
	if recognizeConvergenceFailure("Numerical method failed to converge") != KindNotConverged {
		t.Error("expected convergence diagnostic to be recognized")
	}
	if recognizeConvergenceFailure("segmentation fault") != "" {
		t.Error("unrelated stderr should not be classified as NotConverged")
	}
}

func TestParseSelectedOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.sel")
	content := "shift bv phase Ca_mg_L Mg_mg_L Na_mg_L K_mg_L pH alk_mg_L_CaCO3 hardness_mg_L_CaCO3 co2_mg_L\n" +
		"1 1.0 service 100 40 30 5 7.5 180 350 0\n" +
		"2 2.0 service 100 40 30 5 7.5 180 350 0 EXTRA\n" +
		"3 3.0 service 99 39 30 5 7.5 179 345 0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, dropped, err := parseSelectedOutput(path)
	if err != nil {
		t.Fatalf("parseSelectedOutput: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Shift != 1 || rows[0].HardnessMgLCaCO3 != 350 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
}

func TestParseSelectedOutputMissingColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.sel")
	if err := os.WriteFile(path, []byte("shift bv\n1 1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := parseSelectedOutput(path)
	var ixErr *Error
	if !asError(err, &ixErr) || ixErr.Kind != KindMissingColumn {
		t.Fatalf("expected KindMissingColumn, got %v", err)
	}
}
