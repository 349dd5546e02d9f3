// Package cc implements the C/C++ compile rule of spec.md §4.1: TU
// classification, dep-db discipline, header extraction (yo-yo loop and GCC
// dynamic module mapper), named-module resolution, and BMI synthesis. It is
// the repository's largest component, grounded on the teacher's
// exec.go/state.go recipe-execution shape and daedaleanai-dbt-rules'
// cc.go/toolchain.go command construction, generalized from "run a shell
// recipe" to "classify, extract, resolve, and compile a translation unit".
package cc

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// UnitType is spec.md §3's translation-unit classification.
type UnitType int

const (
	NonModular UnitType = iota
	ModuleImpl
	ModuleIntf
	ModuleIntfPart
	ModuleImplPart
	ModuleHeader
)

func (u UnitType) String() string {
	switch u {
	case ModuleImpl:
		return "module-impl"
	case ModuleIntf:
		return "module-intf"
	case ModuleIntfPart:
		return "module-intf-part"
	case ModuleImplPart:
		return "module-impl-part"
	case ModuleHeader:
		return "module-header"
	default:
		return "non-modular"
	}
}

// ImportKind distinguishes the three import flavors a TU can declare.
type ImportKind int

const (
	ImportModuleIntf ImportKind = iota
	ImportModulePart
	ImportModuleHeader
)

// Import is one entry in a TU's ordered import list.
type Import struct {
	Kind     ImportKind
	Name     string // absolute path for header units
	Exported bool
}

// TU is a classified translation unit: unit type, module name (absolute
// path for header units), ordered imports, and a content checksum.
type TU struct {
	Type     UnitType
	Module   string
	Imports  []Import
	Checksum string
}

// Classify scans source text for the leading `module`/`export module`
// declaration and `import` directives to build a TU record, the way a
// lightweight preprocessing pass over "module;"/"export module X;"/
// "module X;" headers would (full preprocessing is delegated to the
// compiler; this only recognizes the module-declaration grammar needed to
// pick unit type and name before invoking it).
func Classify(src string, isHeaderUnit bool, headerPath string) TU {
	tu := TU{Checksum: Checksum(src)}
	if isHeaderUnit {
		tu.Type = ModuleHeader
		tu.Module = headerPath
		return tu
	}

	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "export module "):
			name := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(trimmed, "export module ")), ";")
			if i := strings.Index(name, ":"); i >= 0 {
				tu.Type = ModuleIntfPart
			} else {
				tu.Type = ModuleIntf
			}
			tu.Module = name
			return tu
		case strings.HasPrefix(trimmed, "module ") && !strings.HasPrefix(trimmed, "module ;"):
			name := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(trimmed, "module ")), ";")
			if i := strings.Index(name, ":"); i >= 0 {
				tu.Type = ModuleImplPart
			} else {
				tu.Type = ModuleImpl
			}
			tu.Module = name
			return tu
		}
		if trimmed != "" && !strings.HasPrefix(trimmed, "//") && !strings.HasPrefix(trimmed, "/*") && !strings.HasPrefix(trimmed, "module;") {
			// First non-trivial, non-module-preamble line: not a module unit.
			break
		}
	}
	tu.Type = NonModular
	return tu
}

// ScanImports extracts `import X;` / `import :part;` / `import "header";`
// / `import <header>;` declarations from src, in source order.
func ScanImports(src string) []Import {
	var imports []Import
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "import ") {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(trimmed, "import ")), ";")
		exported := false
		switch {
		case strings.HasPrefix(rest, `"`) && strings.HasSuffix(rest, `"`):
			imports = append(imports, Import{Kind: ImportModuleHeader, Name: strings.Trim(rest, `"`), Exported: exported})
		case strings.HasPrefix(rest, "<") && strings.HasSuffix(rest, ">"):
			imports = append(imports, Import{Kind: ImportModuleHeader, Name: strings.Trim(rest, "<>"), Exported: exported})
		case strings.HasPrefix(rest, ":"):
			imports = append(imports, Import{Kind: ImportModulePart, Name: rest, Exported: exported})
		default:
			imports = append(imports, Import{Kind: ImportModuleIntf, Name: rest, Exported: exported})
		}
	}
	return imports
}

// Checksum returns the hex SHA-256 content checksum used throughout the
// dep-db (TU checksum, option hash).
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IsModular reports whether u participates in the module system at all
// (as opposed to a plain, non-modular TU).
func (u UnitType) IsModular() bool { return u != NonModular }

// IsInterface reports whether u is an interface-producing unit (one that
// emits a BMI): module interfaces, partitions, and header units.
func (u UnitType) IsInterface() bool {
	switch u {
	case ModuleIntf, ModuleIntfPart, ModuleHeader:
		return true
	default:
		return false
	}
}
