package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/pkg/collaborator"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadManifestFullRoundTrip(t *testing.T) {
	body := base64.StdEncoding.EncodeToString([]byte("#!/bin/sh\n"))
	path := writeManifest(t, `{
		"name": "curl",
		"version": "8.9.1",
		"release": "1",
		"architecture": "x86_64",
		"description": "command line tool for transferring data",
		"files": [
			{"path": "/usr/bin/curl", "content_base64": "`+body+`", "mode": 493},
			{"path": "/usr/lib/libcurl.so", "is_symlink": true, "symlink_target": "libcurl.so.4", "mode": 511}
		],
		"dependencies": [
			{"name": "openssl", "constraint": ">=1.1.1", "kind": "runtime"},
			{"name": "gcc", "kind": "build"}
		],
		"scriptlets": [
			{"phase": "post-install", "interpreter": "/bin/sh", "content": "ldconfig"}
		],
		"config_files": [
			{"path": "/etc/curlrc", "no_replace": true}
		]
	}`)

	pkg, err := loadManifest(path)
	require.NoError(t, err)

	meta := pkg.Metadata()
	assert.Equal(t, "curl", meta.Name)
	assert.Equal(t, "8.9.1", meta.Version)
	assert.Equal(t, "x86_64", meta.Architecture)

	require.Len(t, pkg.Files(), 1)
	assert.Equal(t, "/usr/bin/curl", pkg.Files()[0].Path)

	deps := pkg.Dependencies()
	require.Len(t, deps, 2)
	assert.Equal(t, collaborator.DependencyRuntime, deps[0].Kind)
	assert.Equal(t, collaborator.DependencyBuild, deps[1].Kind)

	require.Len(t, pkg.Scriptlets(), 1)
	assert.Equal(t, collaborator.PhasePostInstall, pkg.Scriptlets()[0].Phase)

	require.Len(t, pkg.ConfigFiles(), 1)
	assert.True(t, pkg.ConfigFiles()[0].NoReplace)

	extracted, err := pkg.ExtractFiles()
	require.NoError(t, err)
	require.Len(t, extracted, 2)
}

func TestLoadManifestRequiresNameAndVersion(t *testing.T) {
	path := writeManifest(t, `{"name": "curl"}`)
	_, err := loadManifest(path)
	assert.ErrorContains(t, err, "name and version are required")
}

func TestLoadManifestRejectsInvalidBase64(t *testing.T) {
	path := writeManifest(t, `{
		"name": "curl",
		"version": "8.9.1",
		"files": [{"path": "/usr/bin/curl", "content_base64": "not-valid-base64!!"}]
	}`)
	_, err := loadManifest(path)
	assert.ErrorContains(t, err, "invalid base64 content")
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := loadManifest(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}

func TestParseDependencyKind(t *testing.T) {
	assert.Equal(t, collaborator.DependencyBuild, parseDependencyKind("build"))
	assert.Equal(t, collaborator.DependencyOptional, parseDependencyKind("optional"))
	assert.Equal(t, collaborator.DependencyRuntime, parseDependencyKind("runtime"))
	assert.Equal(t, collaborator.DependencyRuntime, parseDependencyKind(""))
}
