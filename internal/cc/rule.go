package cc

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbld/bld/internal/bf/names"
	"github.com/mbld/bld/internal/depdb"
	"github.com/mbld/bld/internal/diag"
	"github.com/mbld/bld/internal/fsutil"
	"github.com/mbld/bld/internal/graph"
	"github.com/mbld/bld/internal/modres"
	"github.com/mbld/bld/internal/procutil"
	"github.com/mbld/bld/internal/toolchain"
)

// Environment is the read-only context every compile recipe draws on: the
// toolchain to invoke, the filesystem/process facades, the project's named
// modules and importable header units for resolution, and a logger.
type Environment struct {
	Toolchain toolchain.Info
	FS        fsutil.FS
	Runner    procutil.Runner
	Modules   []modres.Candidate
	// HeaderUnits lists header paths eligible for INCLUDE-TRANSLATE
	// promotion to a header unit (spec.md §4.1's translatable/importable
	// headers groups).
	HeaderUnits []string
	// HeaderUnitRoot is where synthesized header-unit BMIs are written.
	HeaderUnitRoot string
	// Container is the process-wide target store a discovered header is
	// entered into (spec.md §4.1's "enter it as a target ... and inject it
	// as a prerequisite"). Nil disables header-target tracking, e.g. in
	// recipe-level unit tests that don't wire a container.
	Container *graph.Container
	// BuildHeader, when set, updates a discovered header's target before
	// the yo-yo loop decides whether to restart, the way a generated
	// header (spec.md §4.1 scenario 2) is produced by its own rule ahead
	// of the extraction pass that needs its content.
	BuildHeader func(ctx context.Context, key graph.Key) error
	Log         *diag.Logger
}

var sourceExts = map[string]bool{
	"cxx": true, "cc": true, "cpp": true, "c": true,
	"mxx": true, "hxx": true, "h": true, "hpp": true,
}

var headerExts = map[string]bool{"hxx": true, "h": true, "hpp": true}

// CompileRule matches object and BMI targets whose sole real prerequisite
// is a C/C++ translation unit, and produces a compileRecipe that classifies,
// resolves, and compiles it (spec.md §4.1).
type CompileRule struct {
	Env *Environment
}

func (r *CompileRule) objExt() string {
	return strings.TrimPrefix(toolchain.ObjectExt(r.Env.Toolchain.Flavor), ".")
}

func (r *CompileRule) bmiExt() string {
	isClang := r.Env.Toolchain.Flavor == toolchain.Clang
	return strings.TrimPrefix(toolchain.BMIExt(r.Env.Toolchain.Flavor, isClang), ".")
}

func (r *CompileRule) Match(action string, t *graph.Target) bool {
	if action != "update" && action != "clean" {
		return false
	}
	if t.Key.Ext != r.objExt() && t.Key.Ext != r.bmiExt() {
		return false
	}
	return sourcePrereq(t) != nil
}

func sourcePrereq(t *graph.Target) *graph.Prerequisite {
	for _, p := range t.Prereqs() {
		if sourceExts[p.Key.Ext] {
			return p
		}
	}
	return nil
}

func prereqPath(p *graph.Prerequisite) string {
	return filepath.Join(p.Key.Dir, p.Key.Name+extSuffix(p.Key.Ext))
}

func extSuffix(ext string) string {
	if ext == "" {
		return ""
	}
	return "." + ext
}

// Apply classifies the translation unit and resolves its module imports
// against the environment's candidates, producing the recipe that will
// actually invoke the compiler. Per spec.md §4.1, classification and
// module resolution happen during apply; the actual header-prerequisite
// discovery happens inside the recipe's compile pass, since it requires
// running the compiler itself.
func (r *CompileRule) Apply(action string, t *graph.Target) (graph.Recipe, error) {
	src := sourcePrereq(t)
	if src == nil {
		return nil, fmt.Errorf("%s: no source prerequisite", t.Key)
	}
	sourcePath := prereqPath(src)
	isHeaderUnit := t.Key.Ext == r.bmiExt() && headerExts[src.Key.Ext]

	rec := &compileRecipe{
		env:          r.Env,
		target:       t,
		sourcePath:   sourcePath,
		isHeaderUnit: isHeaderUnit,
	}

	if action == "clean" {
		return rec, nil
	}

	content, err := r.Env.FS.ReadFile(sourcePath)
	if err != nil {
		return nil, diag.New(diag.IO, sourcePath, 0, 0, err)
	}
	tu := Classify(string(content), isHeaderUnit, sourcePath)
	if !isHeaderUnit {
		tu.Imports = ScanImports(string(content))
	}
	rec.tu = tu

	byModule := make(map[string]modres.Candidate, len(r.Env.Modules))
	for _, c := range r.Env.Modules {
		if c.ModuleName != "" {
			byModule[c.ModuleName] = c
		}
	}
	for _, imp := range tu.Imports {
		if imp.Kind == ImportModuleHeader {
			continue // left to the mapper session's INCLUDE-TRANSLATE handling
		}
		cand, ok, err := modres.Resolve(imp.Name, r.Env.Modules)
		if err != nil {
			return nil, diag.New(diag.Semantic, sourcePath, 0, 0, err)
		}
		if !ok {
			continue // no project candidate; left for the compiler's own search (e.g. std modules)
		}
		rec.moduleRefs = append(rec.moduleRefs, cand.BMIPath)
		seen := map[string]bool{cand.ModuleName: true}
		for _, reexport := range modres.CopyReexports(nil, cand, byModule, seen) {
			rec.moduleRefs = append(rec.moduleRefs, reexport.BMIPath)
		}
	}

	return rec, nil
}

// compileRecipe performs one compile invocation: dep-db fingerprint
// validation, header extraction (dynamic module mapper, MSVC
// /showIncludes yo-yo, or a -MM dependency-scan yo-yo followed by a plain
// compile), and the actual toolchain invocation.
type compileRecipe struct {
	env          *Environment
	target       *graph.Target
	sourcePath   string
	isHeaderUnit bool
	tu           TU
	moduleRefs   []string

	headerUnitBMIs map[string]string
}

func (rec *compileRecipe) Operate(action string, t *graph.Target) (graph.State, error) {
	switch action {
	case "clean":
		return rec.clean()
	case "update":
		return rec.update()
	default:
		return graph.Failed, fmt.Errorf("compile rule: unsupported action %q", action)
	}
}

func (rec *compileRecipe) outputPath() string {
	return filepath.Join(rec.target.Key.Dir, rec.target.Key.Name+extSuffix(rec.target.Key.Ext))
}

func (rec *compileRecipe) clean() (graph.State, error) {
	out := rec.outputPath()
	changed := false
	if fsutil.Exists(rec.env.FS, out) {
		if err := rec.env.FS.Remove(out); err != nil {
			return graph.Failed, diag.New(diag.IO, out, 0, 0, err)
		}
		changed = true
	}
	dbPath := depdb.PathFor(out)
	if fsutil.Exists(rec.env.FS, dbPath) {
		if err := rec.env.FS.Remove(dbPath); err != nil {
			return graph.Failed, diag.New(diag.IO, dbPath, 0, 0, err)
		}
		changed = true
	}
	if changed {
		return graph.Changed, nil
	}
	return graph.Unchanged, nil
}

const fingerprintSep = "\x1f"

func fingerprintLine(f DepDbFingerprint) string {
	return strings.Join([]string{f.RuleID, f.CompilerSum, f.EnvSum, f.OptionsHash, f.SourcePath}, fingerprintSep)
}

func parseFingerprintLine(line string) DepDbFingerprint {
	parts := strings.Split(line, fingerprintSep)
	for len(parts) < 5 {
		parts = append(parts, "")
	}
	return DepDbFingerprint{
		RuleID: parts[0], CompilerSum: parts[1], EnvSum: parts[2],
		OptionsHash: parts[3], SourcePath: parts[4],
	}
}

func (rec *compileRecipe) update() (graph.State, error) {
	out := rec.outputPath()
	dbPath := depdb.PathFor(out)

	current := DepDbFingerprint{
		RuleID:      "cc.compile",
		CompilerSum: Checksum(rec.env.Toolchain.Path),
		EnvSum:      Checksum(strings.Join(rec.includeDirs(), ",") + "|" + strings.Join(rec.defines(), ",")),
		OptionsHash: Checksum(strings.Join(rec.extraOptions(), " ")),
		SourcePath:  rec.sourcePath,
	}

	db, err := depdb.Open(rec.env.FS, dbPath)
	if err != nil {
		return graph.Failed, err
	}

	cachedLine, hadFingerprint := db.Read()
	cached := parseFingerprintLine(cachedLine)
	dbNewerThanTarget := fsutil.Newer(rec.env.FS, dbPath, out)
	decision := DecideRewrite(cached, current, dbNewerThanTarget)

	upToDate := hadFingerprint && decision == Revalidate &&
		fsutil.Exists(rec.env.FS, out) && !fsutil.Newer(rec.env.FS, rec.sourcePath, out)
	if upToDate {
		for {
			line, ok := db.Read()
			if !ok {
				break
			}
			if name, path, isMap := depdb.ParseModuleMapLine(line); isMap {
				rec.recordModuleMap(name, path)
				db.Skip()
				continue
			}
			if fsutil.Newer(rec.env.FS, line, out) {
				upToDate = false
				break
			}
			db.Skip()
		}
	}
	if upToDate {
		db.Touch()
		if err := db.Close(); err != nil {
			return graph.Failed, err
		}
		return graph.Unchanged, nil
	}

	db.Write(fingerprintLine(current))

	headers, moduleMapLines, err := rec.compile(out)
	if err != nil {
		return graph.Failed, err
	}
	for _, h := range headers {
		db.Write(h)
	}
	for _, m := range moduleMapLines {
		db.Write(m)
	}
	db.Write(EncodeTUString(rec.tu))

	if err := db.Close(); err != nil {
		return graph.Failed, err
	}
	// The db is written after the compiler produces out, so its mtime can
	// trail or lead depending on filesystem timestamp resolution; bump out
	// forward so it always dominates, preserving the two-timestamp
	// invariant CheckMtime enforces.
	now := time.Now()
	if err := rec.env.FS.Chtimes(out, now, now); err != nil {
		return graph.Failed, diag.New(diag.IO, out, 0, 0, err)
	}
	if err := depdb.CheckMtime(rec.env.FS, dbPath, out); err != nil {
		return graph.Failed, err
	}
	return graph.Changed, nil
}

func (rec *compileRecipe) recordModuleMap(name, path string) {
	if rec.headerUnitBMIs == nil {
		rec.headerUnitBMIs = make(map[string]string)
	}
	rec.headerUnitBMIs[name] = path
}

func (rec *compileRecipe) compile(out string) (headers, moduleMapLines []string, err error) {
	req := rec.buildRequest(out)

	if rec.env.Toolchain.Flavor != toolchain.MSVC && rec.env.Toolchain.SupportsMapper && rec.tu.Type.IsModular() {
		return rec.compileWithMapper(req)
	}
	if rec.env.Toolchain.Flavor == toolchain.MSVC {
		return rec.compileMSVC(req)
	}
	return rec.compilePlain(req)
}

func (rec *compileRecipe) buildRequest(out string) toolchain.CompileRequest {
	var unit toolchain.UnitKind
	switch rec.tu.Type {
	case ModuleImpl:
		unit = toolchain.ModuleImpl
	case ModuleIntf:
		unit = toolchain.ModuleIntf
	case ModuleIntfPart:
		unit = toolchain.ModuleIntfPart
	case ModuleImplPart:
		unit = toolchain.ModuleImplPart
	case ModuleHeader:
		unit = toolchain.ModuleHeader
	default:
		unit = toolchain.NonModular
	}
	lang := "c++"
	if strings.HasSuffix(rec.sourcePath, ".c") {
		lang = "c"
	}
	moduleRefs := rec.moduleRefs
	if toolchain.RequiresOriginalSourceRecompile(rec.env.Toolchain) {
		// cl.exe versions older than the BMI-stable cutoff can't consume a
		// BMI built by a separate invocation; every import must instead be
		// satisfied by recompiling from source, so no /module:reference
		// arguments are emitted here.
		moduleRefs = nil
	}
	req := toolchain.CompileRequest{
		Info:         rec.env.Toolchain,
		Source:       rec.sourcePath,
		Output:       out,
		Unit:         unit,
		Lang:         lang,
		Std:          rec.std(),
		IncludeDirs:  rec.includeDirs(),
		Defines:      rec.defines(),
		ExtraOptions: rec.extraOptions(),
		ModuleRefs:   moduleRefs,
	}
	if unit == toolchain.ModuleIntf || unit == toolchain.ModuleIntfPart || unit == toolchain.ModuleHeader {
		req.ModuleOutput = bmiSidecarPath(out, rec.env.Toolchain.Flavor)
	}
	return req
}

func bmiSidecarPath(out string, flavor toolchain.Flavor) string {
	objExt := toolchain.ObjectExt(flavor)
	bmiExt := toolchain.BMIExt(flavor, flavor == toolchain.Clang)
	if strings.HasSuffix(out, objExt) {
		return strings.TrimSuffix(out, objExt) + bmiExt
	}
	return out + bmiExt
}

func (rec *compileRecipe) compileWithMapper(req toolchain.CompileRequest) ([]string, []string, error) {
	req.ModuleMapperFD = "stdin"
	args := toolchain.Build(req)
	proc, err := rec.env.Runner.Pipe(context.Background(), "", nil, rec.env.Toolchain.Path, args...)
	if err != nil {
		return nil, nil, diag.New(diag.Process, rec.sourcePath, 0, 0, err)
	}
	session := NewMapperSession(rec)
	done := make(chan error, 1)
	go func() {
		_, serveErr := session.Serve(proc.Stdout, proc.Stdin)
		proc.Stdin.Close()
		done <- serveErr
	}()
	waitErr := proc.Wait()
	if serveErr := <-done; serveErr != nil {
		return nil, nil, diag.New(diag.Protocol, rec.sourcePath, 0, 0, serveErr)
	}
	if waitErr != nil {
		return nil, nil, diag.New(diag.Process, rec.sourcePath, 0, 0, waitErr)
	}
	return nil, session.ModuleMapLines, nil
}

func (rec *compileRecipe) compileMSVC(req toolchain.CompileRequest) ([]string, []string, error) {
	yy := &YoYoState{}
	for {
		args := toolchain.Build(req)
		res, err := rec.env.Runner.Run(context.Background(), "", nil, rec.env.Toolchain.Path, args...)
		if err != nil {
			return nil, nil, diag.New(diag.Process, rec.sourcePath, 0, 0, err)
		}
		parsed := ParseShowIncludes(string(res.Stdout) + string(res.Stderr))
		success := res.ExitCode == 0 || (parsed.GoodError && yy.MG)
		outcome := PassOutcome{Success: success, Headers: parsed.Headers, MissingPath: parsed.MissingPath}

		novel, err := rec.recordHeaderPrereqs(parsed.Headers)
		if err != nil {
			return nil, nil, err
		}
		if novel != "" {
			outcome.Success = false
			outcome.MissingPath = novel
		}

		switch yy.Next(outcome, rec.headerIsNovel) {
		case DecisionDone:
			if res.ExitCode != 0 {
				return nil, nil, diag.Newf(diag.Process, rec.sourcePath, 0, 0, "compile failed: %s", string(res.Stderr))
			}
			return parsed.Headers, nil, nil
		case DecisionRestart, DecisionEscalateToMG:
			continue
		default: // DecisionHardFail
			return nil, nil, diag.Newf(diag.Process, rec.sourcePath, 0, 0,
				"missing header %q could not be resolved", parsed.MissingPath)
		}
	}
}

func (rec *compileRecipe) headerIsNovel(path string) bool {
	return fsutil.Exists(rec.env.FS, path)
}

// compilePlain runs the GCC/Clang dependency-extraction yo-yo loop ahead of
// the actual compile, so a plain (non-modular, non-MSVC) compile discovers
// and records its header prerequisites the same way the module-mapper and
// MSVC /showIncludes paths do (spec.md §4.1).
func (rec *compileRecipe) compilePlain(req toolchain.CompileRequest) ([]string, []string, error) {
	headers, err := rec.extractDeps(req)
	if err != nil {
		return nil, nil, err
	}
	args := toolchain.Build(req)
	res, err := rec.env.Runner.Run(context.Background(), "", nil, rec.env.Toolchain.Path, args...)
	if err != nil {
		return nil, nil, diag.New(diag.Process, rec.sourcePath, 0, 0, err)
	}
	if res.ExitCode != 0 {
		return nil, nil, diag.Newf(diag.Process, rec.sourcePath, 0, 0, "compile failed: %s", string(res.Stderr))
	}
	return headers, nil, nil
}

// extractDeps drives a "-MM"/"-MG" preprocessor-only pass through the same
// yo-yo loop compileMSVC uses, so header discovery, prerequisite
// injection, and restart-on-generated-header semantics apply to GCC/Clang
// compiles too (spec.md §4.1 steps 1-4).
func (rec *compileRecipe) extractDeps(req toolchain.CompileRequest) ([]string, error) {
	depPath := rec.outputPath() + ".mkdep"
	req.DepOutput = depPath
	defer rec.env.FS.Remove(depPath)

	yy := &YoYoState{}
	for {
		args := toolchain.BuildDepScan(req, yy.MG)
		res, err := rec.env.Runner.Run(context.Background(), "", nil, rec.env.Toolchain.Path, args...)
		if err != nil {
			return nil, diag.New(diag.Process, rec.sourcePath, 0, 0, err)
		}

		var headers []string
		if res.ExitCode == 0 {
			if data, readErr := rec.env.FS.ReadFile(depPath); readErr == nil {
				headers = ParseMakeDeps(string(data), rec.sourcePath)
			}
		}

		outcome := PassOutcome{Success: res.ExitCode == 0, Headers: headers}
		if missing, hadMissing := ParseGCCMissingHeader(string(res.Stderr)); hadMissing {
			outcome.MissingPath = missing
		}

		novel, err := rec.recordHeaderPrereqs(headers)
		if err != nil {
			return nil, err
		}
		if novel != "" {
			outcome.Success = false
			outcome.MissingPath = novel
		}

		switch yy.Next(outcome, rec.headerIsNovel) {
		case DecisionDone:
			return headers, nil
		case DecisionRestart, DecisionEscalateToMG:
			continue
		default: // DecisionHardFail
			return nil, diag.Newf(diag.Process, rec.sourcePath, 0, 0,
				"missing header %q could not be resolved", outcome.MissingPath)
		}
	}
}

// recordHeaderPrereqs records every discovered header via
// recordHeaderPrereq, returning the first one that did not exist on disk
// before this pass — the restart-on-generated-header signal.
func (rec *compileRecipe) recordHeaderPrereqs(headers []string) (novel string, err error) {
	for _, h := range headers {
		isNovel, rerr := rec.recordHeaderPrereq(h)
		if rerr != nil {
			return "", rerr
		}
		if isNovel && novel == "" {
			novel = h
		}
	}
	return novel, nil
}

// recordHeaderPrereq enters path as a real graph.Target in the
// environment's container (creating it if this is the first time it's
// been seen), adds it as a prerequisite of rec.target if not already
// present, and updates it via env.BuildHeader when a generating rule might
// apply — spec.md §4.1's "resolves the header path to a target ...
// updates it, and injects it as a prerequisite", independent of whether
// the header is ever promoted to a header unit. It reports whether path
// did not exist on disk before this call and does now.
func (rec *compileRecipe) recordHeaderPrereq(path string) (novel bool, err error) {
	existedBefore := fsutil.Exists(rec.env.FS, path)
	if rec.env.Container != nil {
		key := headerKeyFor(path)
		target, _ := rec.env.Container.InsertLocked(key, graph.PrereqFile)
		hasPrereq := false
		for _, p := range rec.target.Prereqs() {
			if p.Key == key {
				hasPrereq = true
				break
			}
		}
		if !hasPrereq {
			rec.target.AddPrereq(&graph.Prerequisite{Key: key, Target: target})
		}
		if rec.env.BuildHeader != nil {
			if err := rec.env.BuildHeader(context.Background(), key); err != nil {
				return false, diag.New(diag.IO, path, 0, 0, err)
			}
		}
	}
	return !existedBefore && fsutil.Exists(rec.env.FS, path), nil
}

// headerKeyFor derives a header's graph.Key from its include path,
// matching internal/bf/eval's extension-to-type convention for header
// files ("h" stays "h"; "hxx" and "hpp" map to "hxx").
func headerKeyFor(path string) graph.Key {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	dir := filepath.Dir(path)
	if dir == "." {
		dir = ""
	} else {
		dir += string(filepath.Separator)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	typ := ext
	switch typ {
	case "hpp":
		typ = "hxx"
	case "":
		typ = "file"
	}
	return graph.Key{Type: typ, Dir: dir, Name: name, Ext: ext}
}

// ResolveAndUpdate implements HeaderResolver for the mapper session's
// MODULE-IMPORT and INCLUDE-TRANSLATE requests alike: a path matching a
// registered module name resolves to that module's BMI (MODULE-IMPORT);
// anything else is a header include, entered as a target and injected as
// a prerequisite via recordHeaderPrereq regardless of whether it is
// ultimately promoted to a header unit (spec.md §4.1).
func (rec *compileRecipe) ResolveAndUpdate(path string) (string, error) {
	for _, c := range rec.env.Modules {
		if c.ModuleName == path {
			return c.BMIPath, nil
		}
	}
	if _, err := rec.recordHeaderPrereq(path); err != nil {
		return "", err
	}
	return path, nil
}

func (rec *compileRecipe) Importable(path string) bool {
	for _, h := range rec.env.HeaderUnits {
		if h == path {
			return true
		}
	}
	return false
}

func (rec *compileRecipe) SynthesizeHeaderUnitBMI(path string) (string, error) {
	bmiExt := toolchain.BMIExt(rec.env.Toolchain.Flavor, rec.env.Toolchain.Flavor == toolchain.Clang)
	bmiPath := filepath.Join(rec.env.HeaderUnitRoot, sanitizeHeaderName(path)+bmiExt)
	req := toolchain.CompileRequest{
		Info:   rec.env.Toolchain,
		Source: path,
		Output: bmiPath,
		Unit:   toolchain.ModuleHeader,
		Lang:   "c++",
		Std:    rec.std(),
	}
	args := toolchain.Build(req)
	res, err := rec.env.Runner.Run(context.Background(), "", nil, rec.env.Toolchain.Path, args...)
	if err != nil {
		return "", diag.New(diag.Process, path, 0, 0, err)
	}
	if res.ExitCode != 0 {
		return "", diag.Newf(diag.Process, path, 0, 0, "header unit compile failed: %s", string(res.Stderr))
	}
	return bmiPath, nil
}

func sanitizeHeaderName(path string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ".", "_").Replace(path)
}

func (rec *compileRecipe) std() string        { return varFirst(rec.target.Vars, "cxx.std") }
func (rec *compileRecipe) includeDirs() []string { return varList(rec.target.Vars, "cxx.poptions_I") }
func (rec *compileRecipe) defines() []string     { return varList(rec.target.Vars, "cxx.poptions_D") }
func (rec *compileRecipe) extraOptions() []string { return varList(rec.target.Vars, "cxx.coptions") }

func varList(pool *names.Pool, key string) []string {
	if pool == nil {
		return nil
	}
	v, ok := pool.Find(key)
	if !ok {
		return nil
	}
	return v.Get().Strings()
}

func varFirst(pool *names.Pool, key string) string {
	l := varList(pool, key)
	if len(l) == 0 {
		return ""
	}
	return l[0]
}
