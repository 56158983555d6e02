package buildinfo

import (
	"bytes"
	"testing"
)

func TestPrintBuildData(t *testing.T) {
	orig := Version
	Version = "v1.2.3"
	defer func() { Version = orig }()

	var buf bytes.Buffer
	PrintBuildData(&buf)

	want := "Build version: v1.2.3\nBuild date: N/A\nBuild commit: N/A\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
