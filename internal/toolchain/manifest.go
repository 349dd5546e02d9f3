package toolchain

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// manifestDoc mirrors the minimal side-by-side assembly manifest shape
// needed for rpath emulation on Windows (spec.md §6): an assemblyIdentity
// naming the executable, an optional dependency on "<name>.dlls", and a
// trustInfo block requesting asInvoker execution level.
type manifestAssemblyIdentity struct {
	XMLName              xml.Name `xml:"assemblyIdentity"`
	Name                 string   `xml:"name,attr"`
	Type                 string   `xml:"type,attr"`
	ProcessorArchitecture string  `xml:"processorArchitecture,attr"`
	Version              string   `xml:"version,attr"`
}

type manifestDependentAssembly struct {
	XMLName          xml.Name                  `xml:"dependentAssembly"`
	AssemblyIdentity manifestAssemblyIdentity `xml:"assemblyIdentity"`
}

type manifestDependency struct {
	XMLName           xml.Name                  `xml:"dependency"`
	DependentAssembly manifestDependentAssembly `xml:"dependentAssembly"`
}

type manifestRequestedExecutionLevel struct {
	XMLName   xml.Name `xml:"requestedExecutionLevel"`
	Level     string   `xml:"level,attr"`
	UIAccess  string   `xml:"uiAccess,attr"`
}

type manifestTrustInfo struct {
	XMLName xml.Name `xml:"trustInfo"`
	Xmlns   string   `xml:"xmlns,attr"`
	Level   manifestRequestedExecutionLevel `xml:"security>requestedPrivileges>requestedExecutionLevel"`
}

type manifestAssembly struct {
	XMLName            xml.Name                  `xml:"assembly"`
	ManifestVersion     string                    `xml:"manifestVersion,attr"`
	Xmlns               string                    `xml:"xmlns,attr"`
	AssemblyIdentity     manifestAssemblyIdentity `xml:"assemblyIdentity"`
	Dependency           *manifestDependency      `xml:"dependency,omitempty"`
	TrustInfo             manifestTrustInfo       `xml:"trustInfo"`
}

// BuildManifest renders the manifest XML for exe, named after its leaf
// basename, with processorArchitecture derived from tcpu via
// TargetCPUArch. withRpathDeps controls whether the "<name>.dlls"
// dependency block is emitted.
func BuildManifest(exeLeaf, tcpu string, withRpathDeps bool) ([]byte, error) {
	doc := manifestAssembly{
		ManifestVersion: "1.0",
		Xmlns:           "urn:schemas-microsoft-com:asm.v1",
		AssemblyIdentity: manifestAssemblyIdentity{
			Name:                  exeLeaf,
			Type:                  "win32",
			ProcessorArchitecture: TargetCPUArch(tcpu),
			Version:               "1.0.0.0",
		},
		TrustInfo: manifestTrustInfo{
			Xmlns: "urn:schemas-microsoft-com:asm.v3",
			Level: manifestRequestedExecutionLevel{Level: "asInvoker", UIAccess: "false"},
		},
	}
	if withRpathDeps {
		doc.Dependency = &manifestDependency{
			DependentAssembly: manifestDependentAssembly{
				AssemblyIdentity: manifestAssemblyIdentity{
					Name:                  exeLeaf + ".dlls",
					Type:                  "win32",
					ProcessorArchitecture: TargetCPUArch(tcpu),
					Version:               "1.0.0.0",
				},
			},
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
