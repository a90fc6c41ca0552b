package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/conarylabs/conary/pkg/collaborator"
)

// manifest is the on-disk description `conary install`/`conary update`
// accept in place of a real RPM/DEB/Arch/CCS payload, which this module
// does not parse (real format parsers are external collaborators, per
// spec.md's non-goals). It carries exactly what collaborator.Package
// exposes, so loading one exercises the same conversion path a real parser
// would.
type manifest struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Release      string              `json:"release"`
	Architecture string              `json:"architecture"`
	Flavor       string              `json:"flavor"`
	Description  string              `json:"description"`
	Files        []manifestFile      `json:"files"`
	Dependencies []manifestDependency `json:"dependencies"`
	Scriptlets   []manifestScriptlet `json:"scriptlets"`
	ConfigFiles  []manifestConfigFile `json:"config_files"`
}

type manifestFile struct {
	Path          string `json:"path"`
	ContentBase64 string `json:"content_base64,omitempty"`
	Mode          uint32 `json:"mode"`
	IsSymlink     bool   `json:"is_symlink,omitempty"`
	SymlinkTarget string `json:"symlink_target,omitempty"`
}

type manifestDependency struct {
	Name        string `json:"name"`
	Constraint  string `json:"constraint,omitempty"`
	Kind        string `json:"kind,omitempty"` // runtime, build, optional
	Description string `json:"description,omitempty"`
}

type manifestScriptlet struct {
	Phase       string `json:"phase"`
	Interpreter string `json:"interpreter"`
	Content     string `json:"content"`
	Flags       string `json:"flags,omitempty"`
}

type manifestConfigFile struct {
	Path      string `json:"path"`
	NoReplace bool   `json:"no_replace,omitempty"`
	Ghost     bool   `json:"ghost,omitempty"`
}

// loadManifest reads path and builds the collaborator.Package it describes.
func loadManifest(path string) (collaborator.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Name == "" || m.Version == "" {
		return nil, fmt.Errorf("manifest %s: name and version are required", path)
	}

	pkg := collaborator.NewFake(collaborator.Metadata{
		Name:         m.Name,
		Version:      m.Version,
		Release:      m.Release,
		Architecture: m.Architecture,
		Flavor:       m.Flavor,
		Description:  m.Description,
	})

	for _, f := range m.Files {
		if f.IsSymlink {
			pkg.WithSymlink(f.Path, f.SymlinkTarget, f.Mode)
			continue
		}
		content, err := base64.StdEncoding.DecodeString(f.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: file %s: invalid base64 content: %w", path, f.Path, err)
		}
		pkg.WithFile(f.Path, content, f.Mode)
	}

	for _, d := range m.Dependencies {
		pkg.WithDependency(collaborator.Dependency{
			Name:        d.Name,
			Constraint:  d.Constraint,
			Kind:        parseDependencyKind(d.Kind),
			Description: d.Description,
		})
	}

	for _, s := range m.Scriptlets {
		pkg.WithScriptlet(collaborator.Scriptlet{
			Phase:       collaborator.ScriptletPhase(s.Phase),
			Interpreter: s.Interpreter,
			Content:     s.Content,
			Flags:       s.Flags,
		})
	}

	for _, c := range m.ConfigFiles {
		pkg.WithConfigFile(collaborator.ConfigFile{
			Path:      c.Path,
			NoReplace: c.NoReplace,
			Ghost:     c.Ghost,
		})
	}

	return pkg, nil
}

func parseDependencyKind(s string) collaborator.DependencyKind {
	switch s {
	case "build":
		return collaborator.DependencyBuild
	case "optional":
		return collaborator.DependencyOptional
	default:
		return collaborator.DependencyRuntime
	}
}
