package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The bundled examples must validate and grade with full marks.
func TestExamples(t *testing.T) {
	dirs, err := filepath.Glob(filepath.Join("..", "..", "examples", "*"))
	require.NoError(t, err)
	require.NotEmpty(t, dirs)

	for _, dir := range dirs {
		t.Run(filepath.Base(dir), func(t *testing.T) {
			flowchart := firstExisting(t, dir, "flowchart.json", "flowchart.yaml")
			testcases := firstExisting(t, dir, "testcases.json", "testcases.yaml")

			var stdout, stderr bytes.Buffer
			code := cmdValidate(context.Background(), memoryConfig(t), []string{"-testcases", testcases, flowchart}, &stdout, &stderr)
			require.Equal(t, exitOK, code, "%s%s", stdout.String(), stderr.String())

			stdout.Reset()
			code = cmdGrade(context.Background(), memoryConfig(t), []string{flowchart, testcases}, &stdout, &stderr)
			assert.Equal(t, exitOK, code, "%s%s", stdout.String(), stderr.String())
		})
	}
}

func firstExisting(t *testing.T, dir string, names ...string) string {
	t.Helper()
	for _, name := range names {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Fatalf("%s has none of %v", dir, names)
	return ""
}
