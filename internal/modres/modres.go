// Package modres resolves named-module imports to BMI prerequisites by
// fuzzy filename matching and installed-library module-list lookup, per
// spec.md §4.1's match-scoring formula.
package modres

import (
	"fmt"
	"sort"
	"strings"
)

// Candidate is one mxx prerequisite or installed-library module file
// eligible for fuzzy matching against an imported module name.
type Candidate struct {
	ModuleName string // declared module (or partition) name, if known in advance
	Path       string
	BMIPath    string
	// Reexports lists the module names this candidate re-exports, copied
	// transitively into the importer's prerequisite tail.
	Reexports []string
}

// Score is the decimal PPPPABBBB encoding of spec.md §4.1:
//   PPPP = module-name characters matched from the right
//   A    = separator strength between matched/unmatched prefix (9..0)
//   BBBB = shortness of unmatched prefix (9999 - len)
type Score uint64

func encodeScore(p int, a int, unmatchedLen int) Score {
	if p > 9999 {
		p = 9999
	}
	b := 9999 - unmatchedLen
	if b < 0 {
		b = 0
	}
	return Score(uint64(p)*100000 + uint64(a)*10000 + uint64(b))
}

// separatorStrength ranks the character immediately before the matched
// suffix: stronger separators (path boundary, punctuation, case change)
// score higher, matching spec.md's "\0 > / > other punctuation > case-change
// > unseparated" ordering mapped onto 9..0.
func separatorStrength(prefix string) int {
	if prefix == "" {
		return 9 // nothing before the match: strongest separation (start of string)
	}
	last := prefix[len(prefix)-1]
	switch {
	case last == '/':
		return 8
	case strings.ContainsRune("-_.", rune(last)):
		return 5
	case len(prefix) >= 2 && isCaseChange(prefix[len(prefix)-2], last):
		return 2
	default:
		return 0
	}
}

func isCaseChange(prev, cur byte) bool {
	prevLower := prev >= 'a' && prev <= 'z'
	prevUpper := prev >= 'A' && prev <= 'Z'
	curLower := cur >= 'a' && cur <= 'z'
	curUpper := cur >= 'A' && cur <= 'Z'
	return (prevLower && curUpper) || (prevUpper && curLower)
}

// fuzzyMatch scores how well filename (sans extension) matches moduleName,
// requiring the last module/partition component to be fully consumed. ok
// is false when no suffix of filename matches the module name's last
// component at all.
func fuzzyMatch(moduleName, filename string) (Score, bool) {
	lastComponent := moduleName
	if i := strings.LastIndexAny(moduleName, ".:"); i >= 0 {
		lastComponent = moduleName[i+1:]
	}
	if lastComponent == "" {
		return 0, false
	}
	lowerFile := strings.ToLower(filename)
	lowerComp := strings.ToLower(lastComponent)
	if !strings.HasSuffix(lowerFile, lowerComp) {
		return 0, false
	}
	matchedLen := len(lastComponent)
	unmatchedLen := len(filename) - matchedLen
	prefix := filename[:unmatchedLen]
	a := separatorStrength(prefix)
	return encodeScore(matchedLen, a, unmatchedLen), true
}

// Resolve picks the best-scoring candidate for an imported module name
// among candidates. std.* imports never fuzzy-match (spec.md §4.1); the
// caller is expected to leave those for the compiler's own search.
func Resolve(importName string, candidates []Candidate) (Candidate, bool, error) {
	if strings.HasPrefix(importName, "std.") || importName == "std" {
		return Candidate{}, false, nil
	}
	type scored struct {
		c Candidate
		s Score
	}
	var best []scored
	for _, c := range candidates {
		stem := stemOf(c.Path)
		score, ok := fuzzyMatch(importName, stem)
		if !ok {
			continue
		}
		best = append(best, scored{c, score})
	}
	if len(best) == 0 {
		return Candidate{}, false, nil
	}
	sort.Slice(best, func(i, j int) bool { return best[i].s > best[j].s })
	winner := best[0].c
	if winner.ModuleName != "" && winner.ModuleName != importName {
		return Candidate{}, false, fmt.Errorf(
			"failed to guess module: resolved %q but found module %q", importName, winner.ModuleName)
	}
	return winner, true, nil
}

func stemOf(path string) string {
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

// Offsets tracks the three prerequisite-vector boundaries spec.md §4.1
// requires the caller maintain while copying re-exports: start (first
// module prerequisite), exported (first re-export-only), copied (first
// indirect copy).
type Offsets struct {
	Start, Exported, Copied int
}

// CopyReexports recursively copies every module re-exported (directly or
// transitively) by resolved's Reexports into prereqs, deduplicating by
// module name and appending after the current tail. byModule looks up a
// Candidate for a given already-resolved module name (built from prior
// Resolve calls or installed-library metadata).
func CopyReexports(prereqs []Candidate, resolved Candidate, byModule map[string]Candidate, seen map[string]bool) []Candidate {
	if seen == nil {
		seen = make(map[string]bool)
	}
	for _, name := range resolved.Reexports {
		if seen[name] {
			continue
		}
		seen[name] = true
		cand, ok := byModule[name]
		if !ok {
			continue
		}
		prereqs = append(prereqs, cand)
		prereqs = CopyReexports(prereqs, cand, byModule, seen)
	}
	return prereqs
}
