// Package classlist discovers the Java classes under test and persists their names.
package classlist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmpty indicates no classes were discovered.
var ErrEmpty = errors.New("classlist: no classes discovered")

const javaExt = ".java"

// ClassList computes the fully-qualified names of every Java source file under
// a source tree and caches them for the rest of the run.
type ClassList struct {
	filename string
	classes  []string
	computed bool
}

// New creates a ClassList that writes to filename.
func New(filename string) *ClassList {
	return &ClassList{filename: filename}
}

// Filename returns the path the class list is written to.
func (c *ClassList) Filename() string {
	return c.filename
}

// Classes returns the class names under base/rel. The first call scans the
// tree; later calls return the cached list regardless of their arguments.
func (c *ClassList) Classes(base, rel string) ([]string, error) {
	if c.computed {
		return c.classes, nil
	}
	return c.Recompute(base, rel)
}

// Recompute discards the cached list and scans base/rel again.
//
// A file base/a/b/Foo.java becomes a.b.Foo. Names are returned in
// filepath.WalkDir order. Abstract classes and interfaces are not filtered;
// the generator skips what it cannot instantiate.
func (c *ClassList) Recompute(base, rel string) ([]string, error) {
	cleanBase := filepath.Clean(base)
	root := filepath.Join(cleanBase, rel)

	classes := []string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), javaExt) {
			return nil
		}
		relPath, err := filepath.Rel(cleanBase, path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(relPath), javaExt)
		classes = append(classes, strings.ReplaceAll(name, "/", "."))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("classlist: scanning %s: %w", root, err)
	}

	c.classes = classes
	c.computed = true
	return classes, nil
}

// First returns the first discovered class name.
func (c *ClassList) First(base, rel string) (string, error) {
	classes, err := c.Classes(base, rel)
	if err != nil {
		return "", err
	}
	if len(classes) == 0 {
		return "", ErrEmpty
	}
	return classes[0], nil
}

// Write persists the class list to Filename, one name per line with a
// trailing newline. An empty list produces an empty file.
func (c *ClassList) Write(base, rel string) ([]string, error) {
	classes, err := c.Classes(base, rel)
	if err != nil {
		return nil, err
	}

	var content string
	if len(classes) > 0 {
		content = strings.Join(classes, "\n") + "\n"
	}
	if err := os.WriteFile(c.filename, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("classlist: writing %s: %w", c.filename, err)
	}
	return classes, nil
}
