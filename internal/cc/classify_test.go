package cc

import "testing"

func TestClassifyModuleInterface(t *testing.T) {
	src := "export module foo;\nimport bar;\n"
	tu := Classify(src, false, "")
	if tu.Type != ModuleIntf {
		t.Fatalf("Type = %v, want ModuleIntf", tu.Type)
	}
	if tu.Module != "foo" {
		t.Fatalf("Module = %q, want foo", tu.Module)
	}
}

func TestClassifyModulePartition(t *testing.T) {
	tu := Classify("export module foo:part;\n", false, "")
	if tu.Type != ModuleIntfPart {
		t.Fatalf("Type = %v, want ModuleIntfPart", tu.Type)
	}
	if tu.Module != "foo:part" {
		t.Fatalf("Module = %q", tu.Module)
	}
}

func TestClassifyModuleImpl(t *testing.T) {
	tu := Classify("module foo;\n", false, "")
	if tu.Type != ModuleImpl {
		t.Fatalf("Type = %v, want ModuleImpl", tu.Type)
	}
}

func TestClassifyNonModular(t *testing.T) {
	tu := Classify("#include <vector>\nint main() {}\n", false, "")
	if tu.Type != NonModular {
		t.Fatalf("Type = %v, want NonModular", tu.Type)
	}
}

func TestClassifyHeaderUnit(t *testing.T) {
	tu := Classify("int f();\n", true, "/usr/include/foo.h")
	if tu.Type != ModuleHeader {
		t.Fatalf("Type = %v, want ModuleHeader", tu.Type)
	}
	if tu.Module != "/usr/include/foo.h" {
		t.Fatalf("Module = %q", tu.Module)
	}
}

func TestScanImportsMixed(t *testing.T) {
	src := `module;
#include <cstdio>
export module foo;
import bar;
import :part;
import "legacy.h";
import <cstdint>;
`
	imports := ScanImports(src)
	if len(imports) != 4 {
		t.Fatalf("got %d imports, want 4: %+v", len(imports), imports)
	}
	if imports[0].Kind != ImportModuleIntf || imports[0].Name != "bar" {
		t.Fatalf("imports[0] = %+v", imports[0])
	}
	if imports[1].Kind != ImportModulePart {
		t.Fatalf("imports[1] = %+v", imports[1])
	}
	if imports[2].Kind != ImportModuleHeader || imports[2].Name != "legacy.h" {
		t.Fatalf("imports[2] = %+v", imports[2])
	}
	if imports[3].Kind != ImportModuleHeader || imports[3].Name != "cstdint" {
		t.Fatalf("imports[3] = %+v", imports[3])
	}
}

func TestChecksumDeterministic(t *testing.T) {
	a := Checksum("hello")
	b := Checksum("hello")
	if a != b {
		t.Fatalf("checksum not deterministic: %q vs %q", a, b)
	}
	if a == Checksum("world") {
		t.Fatalf("checksum collided for distinct input")
	}
}

func TestUnitTypeHelpers(t *testing.T) {
	if !ModuleIntf.IsModular() || !ModuleIntf.IsInterface() {
		t.Fatalf("ModuleIntf should be modular and interface")
	}
	if ModuleImpl.IsInterface() {
		t.Fatalf("ModuleImpl should not be an interface unit")
	}
	if NonModular.IsModular() {
		t.Fatalf("NonModular should not be modular")
	}
}
