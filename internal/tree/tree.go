package tree

import (
	"os"
	"path/filepath"
	"sort"
)

// skipDirs are directory names never descended into
var skipDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// DiscoverAllFiles finds all regular files below dir, sorted by path.
// VCS metadata directories are skipped; other dotfiles are included because
// templated trees commonly ship them (e.g. .claude/settings.json).
func DiscoverAllFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path != dir && skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// DiscoverDirs returns dir and every directory below it, skipping the same
// VCS metadata directories as DiscoverAllFiles.
func DiscoverDirs(dir string) ([]string, error) {
	var dirs []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && skipDirs[info.Name()] {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return dirs, nil
}

// RelativePath returns the slash-separated relative path from baseDir to target
func RelativePath(baseDir, target string) (string, error) {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Exists reports whether path names an existing regular file
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
