package observation

import (
	"path/filepath"
	"strings"
)

const (
	imagesDirSuffix       = "_Images"
	defaultImageExtension = ".png"
)

// ImageDirectory returns the directory images of a dataset live in: next to the
// dataset file in <stem>_Images by default, or externalDir when useExternal is set.
func ImageDirectory(datasetPath, externalDir string, useExternal bool) string {
	if useExternal {
		return filepath.Clean(externalDir)
	}
	base := filepath.Base(datasetPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(datasetPath), stem+imagesDirSuffix)
}

// ResolveImagePath returns where the image called name is stored. Names without an
// extension get ".png".
func ResolveImagePath(datasetPath, externalDir string, useExternal bool, name string) string {
	name = filepath.Base(name)
	if filepath.Ext(name) == "" {
		name += defaultImageExtension
	}
	return filepath.Join(ImageDirectory(datasetPath, externalDir, useExternal), name)
}

// UseExternalImageDirectory reports whether a configured external directory overrides the default.
func UseExternalImageDirectory(externalDir string) bool {
	externalDir = strings.TrimSpace(externalDir)
	return externalDir != "" && externalDir != "."
}
