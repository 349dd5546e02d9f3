package cc

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MapperRequest is one line of the GCC dynamic module-mapper protocol
// (spec.md §4.1), already split into its verb and argument.
type MapperRequest struct {
	Verb string // "HELLO" | "MODULE-REPO" | "MODULE-IMPORT" | "INCLUDE-TRANSLATE" | "MODULE-COMPILED" | ...
	Arg  string
}

// MapperResponse is one line the mapper sends back.
type MapperResponse struct {
	Kind string // "PATHNAME" | "BOOL" | "ERROR"
	Path string
	Bool bool
	Msg  string
}

func (r MapperResponse) Render() string {
	switch r.Kind {
	case "PATHNAME":
		return "PATHNAME " + r.Path
	case "BOOL":
		if r.Bool {
			return "BOOL TRUE"
		}
		return "BOOL FALSE"
	case "ERROR":
		return fmt.Sprintf("ERROR '%s'", r.Msg)
	default:
		return ""
	}
}

// ParseMapperLine splits a single request line into verb/arg. Requests may
// be ';'-batched on one physical line; ParseMapperBatch handles that.
func ParseMapperLine(line string) MapperRequest {
	parts := strings.SplitN(line, " ", 2)
	req := MapperRequest{Verb: parts[0]}
	if len(parts) > 1 {
		req.Arg = strings.TrimSpace(parts[1])
	}
	return req
}

// ParseMapperBatch splits a ';'-separated batch of requests on one line.
func ParseMapperBatch(line string) []MapperRequest {
	var out []MapperRequest
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, ParseMapperLine(part))
	}
	return out
}

// HeaderResolver resolves a header path to a target (applying prefix-map
// and src-out remapping), updates it, and reports its materialized path —
// the callback the mapper session uses per spec.md §4.1's "resolves the
// header path to a target ... updates it, and injects it as a
// prerequisite".
type HeaderResolver interface {
	ResolveAndUpdate(path string) (resolvedPath string, err error)
	Importable(path string) bool // translatable-headers + importable-headers groups membership
	SynthesizeHeaderUnitBMI(path string) (bmiPath string, err error)
}

// MapperSession drives one compiler's module-mapper conversation over a
// line-oriented pipe. It is the *only* source of header updates while
// active, replacing the yo-yo loop (spec.md §4.1).
type MapperSession struct {
	resolver HeaderResolver
	// ModuleMapLines accumulates `@ '<name>' <path>` dep-db entries produced
	// by INCLUDE-TRANSLATE promotions, for the caller to persist.
	ModuleMapLines []string
}

func NewMapperSession(resolver HeaderResolver) *MapperSession {
	return &MapperSession{resolver: resolver}
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or a protocol error forces session termination. It returns the
// number of requests handled and the first protocol error (if any);
// per spec.md §7, a protocol error both answers ERROR and terminates.
func (m *MapperSession) Serve(r io.Reader, w io.Writer) (handled int, err error) {
	sc := bufio.NewScanner(r)
	bw := writerFunc(w)
	for sc.Scan() {
		for _, req := range ParseMapperBatch(sc.Text()) {
			handled++
			resp := m.handle(req)
			bw(resp.Render() + "\n")
			if resp.Kind == "ERROR" {
				return handled, fmt.Errorf("module mapper protocol error: %s", resp.Msg)
			}
		}
	}
	return handled, sc.Err()
}

func writerFunc(w io.Writer) func(string) {
	return func(s string) { _, _ = io.WriteString(w, s) }
}

func (m *MapperSession) handle(req MapperRequest) MapperResponse {
	switch req.Verb {
	case "HELLO":
		return MapperResponse{Kind: "BOOL", Bool: true}
	case "MODULE-REPO":
		return MapperResponse{Kind: "PATHNAME", Path: "."}
	case "MODULE-IMPORT":
		resolved, err := m.resolver.ResolveAndUpdate(req.Arg)
		if err != nil {
			return MapperResponse{Kind: "ERROR", Msg: err.Error()}
		}
		return MapperResponse{Kind: "PATHNAME", Path: resolved}
	case "INCLUDE-TRANSLATE":
		// Every header goes through ResolveAndUpdate — entered as a target
		// and injected as a prerequisite — independent of whether it is
		// promoted to a header unit below (spec.md §4.1).
		resolved, err := m.resolver.ResolveAndUpdate(req.Arg)
		if err != nil {
			return MapperResponse{Kind: "ERROR", Msg: err.Error()}
		}
		if !m.resolver.Importable(req.Arg) {
			return MapperResponse{Kind: "BOOL", Bool: false}
		}
		bmi, err := m.resolver.SynthesizeHeaderUnitBMI(resolved)
		if err != nil {
			return MapperResponse{Kind: "ERROR", Msg: err.Error()}
		}
		m.ModuleMapLines = append(m.ModuleMapLines, fmt.Sprintf("@ '%s' %s", req.Arg, bmi))
		return MapperResponse{Kind: "PATHNAME", Path: bmi}
	case "MODULE-COMPILED":
		return MapperResponse{Kind: "BOOL", Bool: true}
	default:
		return MapperResponse{Kind: "ERROR", Msg: "unrecognized request: " + req.Verb}
	}
}
