package resource

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	webResourcesDir       = "resources"
	classpathResourcesDir = "META-INF/resources"
	markerDir             = "META-INF"
	markerSuffix          = ".resource.properties"
)

// Locations are the directories resource files are looked up in: the web
// root's resources folder first, then META-INF/resources below every
// classpath directory.
type Locations struct {
	WebRoot       string
	ClasspathDirs []string
}

func (l Locations) roots() []string {
	roots := make([]string, 0, len(l.ClasspathDirs)+1)
	if l.WebRoot != "" {
		roots = append(roots, filepath.Join(l.WebRoot, webResourcesDir))
	}
	for _, dir := range l.ClasspathDirs {
		if dir != "" {
			roots = append(roots, filepath.Join(dir, filepath.FromSlash(classpathResourcesDir)))
		}
	}
	return roots
}

// Find returns the first regular file matching the slash separated path.
func (l Locations) Find(path string) (string, os.FileInfo, bool) {
	for _, root := range l.roots() {
		full, ok := safeJoin(root, path)
		if !ok {
			return "", nil, false
		}

		info, err := os.Stat(full)
		if err == nil && info.Mode().IsRegular() {
			return full, info, true
		}
	}
	return "", nil, false
}

// FindDir reports whether any location contains the directory.
func (l Locations) FindDir(path string) bool {
	for _, root := range l.roots() {
		full, ok := safeJoin(root, path)
		if !ok {
			return false
		}

		if info, err := os.Stat(full); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// HasMarker reports whether META-INF/<name>.resource.properties exists in a
// classpath directory.
func (l Locations) HasMarker(name string) bool {
	for _, dir := range l.ClasspathDirs {
		if dir == "" {
			continue
		}

		full, ok := safeJoin(filepath.Join(dir, markerDir), name+markerSuffix)
		if !ok {
			return false
		}

		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

func safeJoin(root, rel string) (string, bool) {
	if rel == "" {
		return "", false
	}

	root = filepath.Clean(root)
	full := filepath.Join(root, filepath.Clean(filepath.FromSlash("/"+rel)))

	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}
