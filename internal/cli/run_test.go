package cli

import (
	"os"
	"strings"
	"testing"
)

func TestHelpExitsZero(t *testing.T) {
	t.Chdir(t.TempDir())

	var out, errOut strings.Builder

	code := Run(nil, &out, &errOut, []string{"jbd", "-h"}, nil, nil)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}

	if !strings.Contains(out.String(), "Usage: jbd") {
		t.Fatalf("help output missing usage: %q", out.String())
	}
}

func TestBadFlagExitsNonZero(t *testing.T) {
	t.Chdir(t.TempDir())

	var out, errOut strings.Builder

	code := Run(nil, &out, &errOut, []string{"jbd", "--bogus"}, nil, nil)
	if code == 0 {
		t.Fatal("bad flag should exit non-zero")
	}

	if !strings.Contains(errOut.String(), "ERROR") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestDeterministicRunCompletes(t *testing.T) {
	t.Chdir(t.TempDir())

	var out, errOut strings.Builder

	code := Run(nil, &out, &errOut, []string{"jbd", "-t", "-s", "7"}, nil, nil)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut.String())
	}

	for _, name := range []string{"disk_file.bin", "jrnl_file.bin", "free_file.bin", "node_file.bin", "status.txt", "output.txt"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("%s missing after run: %v", name, err)
		}
	}

	data, err := os.ReadFile("status.txt")
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.TrimSpace(string(data)); got != "Finishing" {
		t.Fatalf("status = %q, want Finishing", got)
	}
}

func TestConfigOverridesFileNames(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := `{
		// keep the image under a different name
		"disk_file": "image.bin",
	}`

	if err := os.WriteFile("jbd.hujson", []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut strings.Builder

	code := Run(nil, &out, &errOut, []string{"jbd", "-t"}, nil, nil)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut.String())
	}

	if _, err := os.Stat("image.bin"); err != nil {
		t.Fatalf("configured disk file missing: %v", err)
	}
}
