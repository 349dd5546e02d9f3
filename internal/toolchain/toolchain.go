// Package toolchain builds compiler command lines for the GCC/Clang and
// MSVC flavors of spec.md §6, grounded on the teacher pack's
// daedaleanai-dbt-rules GccToolchain (fmt.Sprintf("%q ...")-based argument
// construction) generalized to module/header-unit aware invocations.
package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/mod/semver"
)

// Flavor distinguishes the two command-line dialects in scope.
type Flavor int

const (
	GCC Flavor = iota
	Clang
	MSVC
)

// Info is the fixed compiler_info record consumed from outside (toolchain
// probing itself is out of scope per spec.md §1).
type Info struct {
	Flavor      Flavor
	Path        string
	Version     string // e.g. "19.38.33135"; empty if unknown
	TargetCPU   string // "i386", "i686", "x86_64", ...
	TargetOS    string // "linux", "windows", "darwin", "bsd", ...
	SupportsMapper bool // GCC dynamic module-mapper protocol
	SupportsShowIncludes bool
}

// msvcModuleBMIStableVersion is the first cl.exe version whose module BMI
// format is reliably cross-TU compatible within a build; earlier versions
// require each importer to recompile from the imported module's original
// source rather than consuming a previously-built BMI.
const msvcModuleBMIStableVersion = "v19.35.0"

// RequiresOriginalSourceRecompile reports whether info's compiler cannot be
// trusted to consume a BMI built by a separate invocation of itself, and
// must instead have every module import satisfied by recompiling the
// imported module's original source alongside the importer.
func RequiresOriginalSourceRecompile(info Info) bool {
	if info.Flavor != MSVC || info.Version == "" {
		return false
	}
	v := info.Version
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, msvcModuleBMIStableVersion) < 0
}

// UnitKind mirrors spec.md §3's TU classification for command purposes.
type UnitKind int

const (
	NonModular UnitKind = iota
	ModuleImpl
	ModuleIntf
	ModuleIntfPart
	ModuleImplPart
	ModuleHeader
)

// CompileRequest is everything a command-line builder needs to emit one
// compile invocation.
type CompileRequest struct {
	Info           Info
	Source         string
	Output         string   // object or BMI path
	DepOutput      string   // -MM dependency-file path written by BuildDepScan
	Unit           UnitKind
	Lang           string   // "c" | "c++"
	Std            string
	IncludeDirs    []string
	Defines        []string
	ExtraOptions   []string
	ModuleMapperFD string // pipe path, GCC only
	ModuleRefs     []string // resolved BMI paths to pass as /module:reference or module-mapper answers
	ModuleOutput   string   // MSVC /module:output path, when producing an interface BMI
	PIC            bool
	Shared         bool
}

// Build renders the full argv for req. Argument count and order follow
// spec.md §6 exactly; later components (internal/cc) are responsible for
// actually invoking the process via internal/procutil.
func Build(req CompileRequest) []string {
	switch req.Info.Flavor {
	case MSVC:
		return buildMSVC(req)
	default:
		return buildGCCLike(req)
	}
}

func buildGCCLike(req CompileRequest) []string {
	var args []string
	args = append(args, "-pipe", "-c")

	switch req.Unit {
	case ModuleHeader:
		if req.Info.Flavor == GCC {
			args = append(args, "-fmodule-header")
		} else {
			args = append(args, "-x", "c++-header")
		}
	case ModuleIntf, ModuleIntfPart:
		args = append(args, "-x", "c++-module")
	default:
		if req.Lang == "c" {
			args = append(args, "-x", "c")
		} else {
			args = append(args, "-x", "c++")
		}
	}

	if req.Std != "" {
		args = append(args, "-std="+req.Std)
	}
	if req.PIC && req.Info.TargetOS != "windows" {
		args = append(args, "-fPIC")
	}
	if req.Info.Flavor == Clang {
		args = append(args, "-fmodules-embed-all-files")
	}
	for _, d := range req.IncludeDirs {
		args = append(args, "-I"+d)
	}
	for _, d := range req.Defines {
		args = append(args, "-D"+d)
	}
	args = append(args, req.ExtraOptions...)

	if req.ModuleMapperFD != "" && req.Info.Flavor == GCC {
		args = append(args, fmt.Sprintf("-fmodule-mapper=%s?@", req.ModuleMapperFD))
	}

	args = append(args, "-o", req.Output, req.Source)
	return args
}

// BuildDepScan renders the argv for a GCC/Clang dependency-only
// preprocessor pass (spec.md §4.1's yo-yo loop steps 1 and 4): "-MM" emits
// a Makefile dependency line without compiling; tolerateMissing adds "-MG",
// the escalated pass that treats an unresolved header as "will be
// generated" instead of erroring.
func BuildDepScan(req CompileRequest, tolerateMissing bool) []string {
	var args []string
	args = append(args, "-MM")
	if tolerateMissing {
		args = append(args, "-MG")
	}
	if req.Lang == "c" {
		args = append(args, "-x", "c")
	} else {
		args = append(args, "-x", "c++")
	}
	if req.Std != "" {
		args = append(args, "-std="+req.Std)
	}
	for _, d := range req.IncludeDirs {
		args = append(args, "-I"+d)
	}
	for _, d := range req.Defines {
		args = append(args, "-D"+d)
	}
	args = append(args, req.ExtraOptions...)
	args = append(args, "-o", req.DepOutput, req.Source)
	return args
}

func buildMSVC(req CompileRequest) []string {
	var args []string
	args = append(args, "/nologo")
	if req.Lang != "c" {
		hasEH := false
		for _, o := range req.ExtraOptions {
			if len(o) >= 3 && o[:3] == "/EH" {
				hasEH = true
			}
		}
		if !hasEH {
			args = append(args, "/EHsc")
		}
	}
	hasRuntime := false
	for _, o := range req.ExtraOptions {
		if o == "/MD" || o == "/MT" || o == "/MDd" || o == "/MTd" {
			hasRuntime = true
		}
	}
	if !hasRuntime {
		args = append(args, "/MD")
	}
	args = append(args, "/showIncludes")
	for _, d := range req.IncludeDirs {
		args = append(args, "/I"+d)
	}
	for _, d := range req.Defines {
		args = append(args, "/D"+d)
	}
	args = append(args, req.ExtraOptions...)

	switch req.Unit {
	case ModuleIntf, ModuleIntfPart:
		args = append(args, "/module:interface", "/module:output", req.ModuleOutput)
	case ModuleImpl, ModuleImplPart:
		if req.ModuleOutput != "" {
			args = append(args, "/module:output", req.ModuleOutput)
		}
	}
	for _, ref := range req.ModuleRefs {
		args = append(args, "/module:reference", ref)
	}
	if stdModuleDir := os.Getenv("BLD_MSVC_STD_IFC_DIR"); stdModuleDir != "" {
		args = append(args, "/module:stdIfcDir", stdModuleDir)
		os.Unsetenv("IFCPATH")
	}

	args = append(args, "/c", "/Fo:"+req.Output, req.Source)
	return args
}

// TargetCPUArch maps a target CPU to the Windows manifest processorArchitecture
// value per spec.md §6.
func TargetCPUArch(tcpu string) string {
	switch tcpu {
	case "i386", "i686":
		return "x86"
	case "x86_64":
		return "amd64"
	default:
		return tcpu
	}
}

// HostFlavor guesses GCC vs MSVC from the running OS, used only as a
// fallback default for tests and CLI defaulting — real probing is out of
// scope (spec.md §1).
func HostFlavor() Flavor {
	if runtime.GOOS == "windows" {
		return MSVC
	}
	return GCC
}

// ObjectExt returns the object-file extension for the flavor.
func ObjectExt(f Flavor) string {
	if f == MSVC {
		return ".obj"
	}
	return ".o"
}

// BMIExt returns the BMI extension for (flavor), per spec.md §4.1's
// target-type derivation: GCC uses .gcm, Clang .pcm, MSVC .ifc.
func BMIExt(f Flavor, isClang bool) string {
	switch {
	case f == MSVC:
		return ".ifc"
	case isClang:
		return ".pcm"
	default:
		return ".gcm"
	}
}

// ModuleDisambiguatedObject derives the ad hoc object member name for a
// module interface unit that also emits an object file, so that an
// interface foo.mxx and an implementation foo.cxx do not collide
// (spec.md §4.1).
func ModuleDisambiguatedObject(base string, flavor Flavor) string {
	ext := ObjectExt(flavor)
	dir, name := filepath.Split(base)
	stem := name
	if i := len(stem) - len(filepath.Ext(stem)); i > 0 {
		stem = stem[:i]
	}
	return filepath.Join(dir, stem+"-iface"+ext)
}
