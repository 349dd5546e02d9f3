package cc

import "strings"

// ShowIncludesResult is the outcome of parsing one MSVC /showIncludes
// compiler run: the discovered header paths in order, whether a C1083
// missing-include error was seen, and whether the run should be tolerated
// despite a non-zero exit (spec.md §4.1 "good_error=true").
type ShowIncludesResult struct {
	Headers     []string
	MissingPath string
	GoodError   bool
}

// noteLinePrefix is the English form MSVC emits for the include note;
// localized forms are not recognized.
const noteLinePrefix = "Note: including file:"

// ParseShowIncludes scans MSVC compiler stdout/stderr lines: include-note
// lines yield header paths; a "C1083" line reporting a missing include
// marks GoodError so the caller tolerates the resulting non-zero exit
// while still surfacing the real diagnostic. A leading command-line
// warning line (e.g. "cl : Command line warning D9002 ...") is tolerated
// and skipped, matching "translation-preserving parsing tolerates
// command-line warnings on the first line".
func ParseShowIncludes(output string) ShowIncludesResult {
	var res ShowIncludesResult
	lines := strings.Split(output, "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if i == 0 && strings.Contains(line, "Command line warning") {
			continue
		}
		if idx := strings.Index(line, noteLinePrefix); idx >= 0 {
			path := strings.TrimSpace(line[idx+len(noteLinePrefix):])
			res.Headers = append(res.Headers, path)
			continue
		}
		if strings.Contains(line, "C1083") && strings.Contains(line, "Cannot open include file") {
			res.GoodError = true
			res.MissingPath = extractMissingPath(line)
		}
	}
	return res
}

func extractMissingPath(line string) string {
	start := strings.IndexByte(line, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(line[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return line[start+1 : start+1+end]
}
