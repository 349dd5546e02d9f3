package cc

import "strings"

// ParseMakeDeps parses a GCC/Clang "-MM" Makefile-rule dependency line
// ("target: dep dep \\\n dep ...") into the referenced header paths,
// dropping the rule's own target and the translation unit's own source
// path (spec.md §4.1's dependency stream).
func ParseMakeDeps(data, sourcePath string) []string {
	joined := strings.ReplaceAll(data, "\\\r\n", " ")
	joined = strings.ReplaceAll(joined, "\\\n", " ")

	var headers []string
	for _, line := range strings.Split(joined, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		for _, field := range strings.Fields(rest) {
			if field == sourcePath {
				continue
			}
			headers = append(headers, field)
		}
	}
	return headers
}

// ParseGCCMissingHeader scans GCC/Clang diagnostic output for an unresolved
// #include, returning the header name and ok=true if one is present — the
// failure signal the yo-yo loop checks before escalating to -MG, the way
// ParseShowIncludes' C1083 detection drives the same decision for MSVC.
func ParseGCCMissingHeader(stderr string) (path string, ok bool) {
	const gccMarker = ": fatal error: "
	const gccSuffix = ": No such file or directory"
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimRight(line, "\r")
		if idx := strings.Index(line, gccMarker); idx >= 0 {
			msg := line[idx+len(gccMarker):]
			if rest, found := strings.CutSuffix(msg, gccSuffix); found {
				return strings.TrimSpace(rest), true
			}
			if strings.HasSuffix(strings.TrimSpace(msg), "file not found") {
				if p, found := quotedPath(msg); found {
					return p, true
				}
			}
		}
	}
	return "", false
}

func quotedPath(s string) (string, bool) {
	start := strings.IndexByte(s, '\'')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(s[start+1:], '\'')
	if end < 0 {
		return "", false
	}
	return s[start+1 : start+1+end], true
}
