// SPDX-License-Identifier: MIT

// Package parser classifies raw CLI output lines into semantic stream event
// types. Classification is pure: the same line always yields the same result
// and the original content is never modified.
package parser

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/stackworks/agentmux/internal/types"
)

// Classification is the parser's verdict for one line.
type Classification struct {
	Type     types.StreamEventType
	Metadata *types.StreamMetadata
}

var (
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

	commandRe = regexp.MustCompile(`^\$\s+.+`)

	fileChangeRe = regexp.MustCompile(`^>\s*(Creating|Writing|Adding|Editing|Modifying|Updating|Deleting|Removing)\s+(\S+)`)

	testFileRe    = regexp.MustCompile(`^(PASS|FAIL)\s+(\S+)`)
	testSummaryRe = regexp.MustCompile(`^Tests:\s+(.+)$`)
	summaryPartRe = regexp.MustCompile(`(\d+)\s+(passed|failed|skipped|total)`)
	tapRe         = regexp.MustCompile(`^(not ok|ok)\s+\d+\s+-\s+(.+)$`)
	tickRe        = regexp.MustCompile(`^[✓✔]\s+(.+?)(?:\s+\(\d+\s*m?s\))?$`)
	crossRe       = regexp.MustCompile(`^[✕✗✘×]\s+(.+)$`)

	runtimeErrRe = regexp.MustCompile(`^(SyntaxError|TypeError|ReferenceError|RangeError|URIError|EvalError|Error):\s+(.+)$`)
	tsErrRe      = regexp.MustCompile(`error (TS\d+):\s+(.+)`)
	npmErrRe     = regexp.MustCompile(`^npm ERR!\s+(?:([A-Z][A-Z_0-9]*)\s+)?(.*)$`)
)

// StripANSI removes terminal color/control sequences from a line.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// Parse classifies a single output line. Rules are applied in a fixed order
// and the first match wins; unmatched lines are plain output.
func Parse(line string) Classification {
	if commandRe.MatchString(line) {
		return Classification{Type: types.StreamCommand}
	}
	if c, ok := parseFileChange(line); ok {
		return c
	}
	if c, ok := parseTestResult(StripANSI(line)); ok {
		return c
	}
	if c, ok := parseError(line); ok {
		return c
	}
	return Classification{Type: types.StreamOutput}
}

func parseFileChange(line string) (Classification, bool) {
	m := fileChangeRe.FindStringSubmatch(line)
	if m == nil {
		return Classification{}, false
	}

	candidate := strings.TrimSuffix(strings.TrimSuffix(m[2], "..."), "…")
	// Must look like a file, not a directory: the last path segment needs a dot.
	base := path.Base(candidate)
	if !strings.Contains(base, ".") || base == "." || base == ".." {
		return Classification{}, false
	}

	var change types.FileChangeType
	switch m[1] {
	case "Creating", "Writing", "Adding":
		change = types.FileCreated
	case "Editing", "Modifying", "Updating":
		change = types.FileEdited
	case "Deleting", "Removing":
		change = types.FileDeleted
	}

	return Classification{
		Type: types.StreamFileChange,
		Metadata: &types.StreamMetadata{
			FileName:   base,
			FilePath:   candidate,
			ChangeType: change,
		},
	}, true
}

func parseTestResult(line string) (Classification, bool) {
	if m := testFileRe.FindStringSubmatch(line); m != nil {
		status := types.TestPassed
		if m[1] == "FAIL" {
			status = types.TestFailed
		}
		return Classification{
			Type: types.StreamTestResult,
			Metadata: &types.StreamMetadata{
				TestName:   path.Base(m[2]),
				TestStatus: status,
				FilePath:   m[2],
			},
		}, true
	}

	if m := testSummaryRe.FindStringSubmatch(line); m != nil {
		summary := &types.TestSummary{}
		found := false
		for _, part := range summaryPartRe.FindAllStringSubmatch(m[1], -1) {
			n, err := strconv.Atoi(part[1])
			if err != nil {
				continue
			}
			found = true
			switch part[2] {
			case "passed":
				summary.Passed = n
			case "failed":
				summary.Failed = n
			case "skipped":
				summary.Skipped = n
			case "total":
				summary.Total = n
			}
		}
		if !found {
			return Classification{}, false
		}
		status := types.TestPassed
		if summary.Failed > 0 {
			status = types.TestFailed
		}
		return Classification{
			Type: types.StreamTestResult,
			Metadata: &types.StreamMetadata{
				TestStatus: status,
				Summary:    summary,
			},
		}, true
	}

	if m := tapRe.FindStringSubmatch(line); m != nil {
		status := types.TestPassed
		if m[1] == "not ok" {
			status = types.TestFailed
		}
		return Classification{
			Type: types.StreamTestResult,
			Metadata: &types.StreamMetadata{
				TestName:   strings.TrimSpace(m[2]),
				TestStatus: status,
			},
		}, true
	}

	if m := tickRe.FindStringSubmatch(line); m != nil {
		return Classification{
			Type: types.StreamTestResult,
			Metadata: &types.StreamMetadata{
				TestName:   strings.TrimSpace(m[1]),
				TestStatus: types.TestPassed,
			},
		}, true
	}

	if m := crossRe.FindStringSubmatch(line); m != nil {
		return Classification{
			Type: types.StreamTestResult,
			Metadata: &types.StreamMetadata{
				TestName:   strings.TrimSpace(m[1]),
				TestStatus: types.TestFailed,
			},
		}, true
	}

	return Classification{}, false
}

func parseError(line string) (Classification, bool) {
	stripped := StripANSI(line)

	if m := runtimeErrRe.FindStringSubmatch(stripped); m != nil {
		return Classification{
			Type:     types.StreamError,
			Metadata: &types.StreamMetadata{ErrorType: m[1]},
		}, true
	}

	if m := tsErrRe.FindStringSubmatch(stripped); m != nil {
		return Classification{
			Type: types.StreamError,
			Metadata: &types.StreamMetadata{
				ErrorType: "typescript",
				ErrorCode: m[1],
			},
		}, true
	}

	if m := npmErrRe.FindStringSubmatch(stripped); m != nil {
		return Classification{
			Type: types.StreamError,
			Metadata: &types.StreamMetadata{
				ErrorType: "npm",
				ErrorCode: m[1],
			},
		}, true
	}

	return Classification{}, false
}
