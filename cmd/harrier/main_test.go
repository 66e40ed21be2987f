package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("harrier %s failed: %v\n%s", strings.Join(args, " "), err, buf.String())
	}
	return buf.String()
}

func TestGenerateScorePortfolio(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out := execute(t, "generate", "--rows", "1500", "--seed", "3", "--out", "data.csv")
	if !strings.Contains(out, "Wrote 1,500 records to data.csv") {
		t.Errorf("unexpected generate output %q", out)
	}

	out = execute(t, "score", "--data", "data.csv", "--out", "flags.csv", "--json", "report.json", "--save", "--top", "5")
	for _, want := range []string{
		"Loaded 1,500 records from data.csv",
		"AUTO INSURANCE FRAUD / ANOMALY DETECTION - SUMMARY",
		"flagged claims to flags.csv",
		"Stored run ",
		"Done.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in score output", want)
		}
	}

	csv, err := os.ReadFile(filepath.Join(dir, "flags.csv"))
	if err != nil {
		t.Fatalf("flagged CSV not written: %v", err)
	}
	if !strings.HasPrefix(string(csv), "customer_id,gender,age,car_model_year,annual_premium,total_loss,loss_ratio,risk_score,flags") {
		t.Errorf("unexpected CSV header %q", strings.SplitN(string(csv), "\n", 2)[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "report.json")); err != nil {
		t.Errorf("report JSON not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "harrier.db")); err != nil {
		t.Errorf("run was not stored: %v", err)
	}

	out = execute(t, "portfolio", "--data", "data.csv")
	if !strings.Contains(out, "<25") || !strings.Contains(out, "Female") {
		t.Errorf("unexpected portfolio output %q", out)
	}
}

func TestRulesAndVersion(t *testing.T) {
	t.Chdir(t.TempDir())

	out := execute(t, "rules")
	for _, want := range []string{"extreme_loss_ratio", "premium_loss_mismatch", "max_loss_ratio"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in rules output", want)
		}
	}

	if out := execute(t, "version"); !strings.HasPrefix(out, "harrier dev") {
		t.Errorf("unexpected version output %q", out)
	}
}
