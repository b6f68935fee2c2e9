// SPDX-License-Identifier: MIT

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackworks/agentmux/internal/types"
)

func TestParse_Command(t *testing.T) {
	c := Parse("$ npm run build")
	assert.Equal(t, types.StreamCommand, c.Type)
	assert.Nil(t, c.Metadata)
}

func TestParse_FileChange(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		change types.FileChangeType
		file   string
		path   string
	}{
		{"creating", "> Creating src/index.ts", types.FileCreated, "index.ts", "src/index.ts"},
		{"writing", "> Writing package.json...", types.FileCreated, "package.json", "package.json"},
		{"adding", ">  Adding lib/util.go", types.FileCreated, "util.go", "lib/util.go"},
		{"editing", "> Editing src/app.tsx", types.FileEdited, "app.tsx", "src/app.tsx"},
		{"modifying", "> Modifying config.yaml", types.FileEdited, "config.yaml", "config.yaml"},
		{"updating", "> Updating README.md…", types.FileEdited, "README.md", "README.md"},
		{"deleting", "> Deleting old/legacy.js", types.FileDeleted, "legacy.js", "old/legacy.js"},
		{"removing", "> Removing tmp/cache.json", types.FileDeleted, "cache.json", "tmp/cache.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Parse(tt.line)
			require.Equal(t, types.StreamFileChange, c.Type)
			require.NotNil(t, c.Metadata)
			assert.Equal(t, tt.change, c.Metadata.ChangeType)
			assert.Equal(t, tt.file, c.Metadata.FileName)
			assert.Equal(t, tt.path, c.Metadata.FilePath)
		})
	}
}

func TestParse_FileChangeRequiresFileLikePath(t *testing.T) {
	// Directories (no dot in last segment) are not file changes.
	for _, line := range []string{
		"> Creating src/components",
		"> Deleting build",
		"> Editing a/b/c",
	} {
		c := Parse(line)
		assert.Equal(t, types.StreamOutput, c.Type, "line %q", line)
	}
}

func TestParse_TestResults(t *testing.T) {
	t.Run("pass file", func(t *testing.T) {
		c := Parse("PASS src/x.spec.ts")
		require.Equal(t, types.StreamTestResult, c.Type)
		assert.Equal(t, "x.spec.ts", c.Metadata.TestName)
		assert.Equal(t, types.TestPassed, c.Metadata.TestStatus)
		assert.Equal(t, "src/x.spec.ts", c.Metadata.FilePath)
	})

	t.Run("fail file with ansi prefix", func(t *testing.T) {
		c := Parse("\x1b[31mFAIL\x1b[0m src/y.spec.ts")
		require.Equal(t, types.StreamTestResult, c.Type)
		assert.Equal(t, types.TestFailed, c.Metadata.TestStatus)
	})

	t.Run("summary all counts", func(t *testing.T) {
		c := Parse("Tests: 10 passed, 2 skipped, 1 failed, 13 total")
		require.Equal(t, types.StreamTestResult, c.Type)
		require.NotNil(t, c.Metadata.Summary)
		assert.Equal(t, 10, c.Metadata.Summary.Passed)
		assert.Equal(t, 2, c.Metadata.Summary.Skipped)
		assert.Equal(t, 1, c.Metadata.Summary.Failed)
		assert.Equal(t, 13, c.Metadata.Summary.Total)
		assert.Equal(t, types.TestFailed, c.Metadata.TestStatus)
	})

	t.Run("summary passed only", func(t *testing.T) {
		c := Parse("Tests: 4 passed, 4 total")
		require.Equal(t, types.StreamTestResult, c.Type)
		assert.Equal(t, types.TestPassed, c.Metadata.TestStatus)
	})

	t.Run("tap ok", func(t *testing.T) {
		c := Parse("ok 3 - parses empty input")
		require.Equal(t, types.StreamTestResult, c.Type)
		assert.Equal(t, "parses empty input", c.Metadata.TestName)
		assert.Equal(t, types.TestPassed, c.Metadata.TestStatus)
	})

	t.Run("tap not ok", func(t *testing.T) {
		c := Parse("not ok 4 - rejects bad input")
		require.Equal(t, types.StreamTestResult, c.Type)
		assert.Equal(t, types.TestFailed, c.Metadata.TestStatus)
	})

	t.Run("tick with duration", func(t *testing.T) {
		c := Parse("✓ renders header (12 ms)")
		require.Equal(t, types.StreamTestResult, c.Type)
		assert.Equal(t, "renders header", c.Metadata.TestName)
		assert.Equal(t, types.TestPassed, c.Metadata.TestStatus)
	})

	t.Run("cross", func(t *testing.T) {
		c := Parse("✕ renders footer")
		require.Equal(t, types.StreamTestResult, c.Type)
		assert.Equal(t, "renders footer", c.Metadata.TestName)
		assert.Equal(t, types.TestFailed, c.Metadata.TestStatus)
	})
}

func TestParse_Errors(t *testing.T) {
	t.Run("runtime", func(t *testing.T) {
		c := Parse("TypeError: Cannot read properties of undefined")
		require.Equal(t, types.StreamError, c.Type)
		assert.Equal(t, "TypeError", c.Metadata.ErrorType)
	})

	t.Run("typescript", func(t *testing.T) {
		c := Parse("src/app.ts(3,7): error TS2322: Type 'string' is not assignable")
		require.Equal(t, types.StreamError, c.Type)
		assert.Equal(t, "typescript", c.Metadata.ErrorType)
		assert.Equal(t, "TS2322", c.Metadata.ErrorCode)
	})

	t.Run("npm with code", func(t *testing.T) {
		c := Parse("npm ERR! ERESOLVE unable to resolve dependency tree")
		require.Equal(t, types.StreamError, c.Type)
		assert.Equal(t, "npm", c.Metadata.ErrorType)
		assert.Equal(t, "ERESOLVE", c.Metadata.ErrorCode)
	})

	t.Run("npm without code", func(t *testing.T) {
		c := Parse("npm ERR! missing script: build")
		require.Equal(t, types.StreamError, c.Type)
		assert.Empty(t, c.Metadata.ErrorCode)
	})
}

func TestParse_PlainOutput(t *testing.T) {
	for _, line := range []string{
		"Building project...",
		"",
		"  done in 3.2s",
		"ok, moving on", // not TAP: no test number
	} {
		c := Parse(line)
		assert.Equal(t, types.StreamOutput, c.Type, "line %q", line)
		assert.Nil(t, c.Metadata)
	}
}

// Classifying plain output is idempotent: re-parsing the content yields the
// same verdict.
func TestParse_Idempotent(t *testing.T) {
	line := "compiling module graph"
	first := Parse(line)
	require.Equal(t, types.StreamOutput, first.Type)
	second := Parse(line)
	assert.Equal(t, first, second)
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "PASS src/a.ts", StripANSI("\x1b[32mPASS\x1b[0m src/a.ts"))
	assert.Equal(t, "plain", StripANSI("plain"))
}
