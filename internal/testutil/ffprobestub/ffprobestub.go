// Package ffprobestub builds a fake ffprobe executable for tests.
package ffprobestub

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// Build compiles a stub ffprobe. It prints the contents of the probed file
// when the file starts with "dims:" (e.g. "dims:640x480"), fails with exit
// code 1 when it starts with "fail", and prints nothing otherwise.
func Build(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")

	program := `
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "no args")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[len(args)-1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	content := string(data)
	switch {
	case strings.HasPrefix(content, "fail"):
		fmt.Fprintln(os.Stderr, "invalid data found when processing input")
		os.Exit(1)
	case strings.HasPrefix(content, "dims:"):
		fmt.Println(strings.TrimSpace(strings.TrimPrefix(content, "dims:")))
	}
}
`

	if err := os.WriteFile(src, []byte(program), 0o644); err != nil {
		t.Fatalf("write fake ffprobe: %v", err)
	}

	name := "ffprobe"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	bin := filepath.Join(dir, name)

	cmd := exec.Command("go", "build", "-o", bin, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building fake ffprobe failed: %v: %s", err, out)
	}

	return bin
}
