// Package jpfconf renders JPF/JDart configuration files (.jpf) from templates.
package jpfconf

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

// DefaultTemplate is the template used for per-class analysis configs.
const DefaultTemplate = "analysis.jpf.tmpl"

// Extension is the file extension JPF expects for configuration files.
const Extension = ".jpf"

// ErrEmpty indicates a template file exists but contains no content.
var ErrEmpty = errors.New("jpfconf: empty template")

// Context holds the values interpolated into a .jpf template.
type Context struct {
	Package   string // Package of the symbolized tests (e.g. "randooped").
	Class     string // Simple class name the config is generated for.
	Target    string // Fully-qualified class JPF runs.
	Classpath string // JPF classpath, comma-separated.
	SourceDir string // Directory holding the symbolized sources.
}

// FileName returns the deterministic config file name for a class. Qualified
// names (pkg.Foo) map to the simple name (Foo.jpf).
func FileName(class string) string {
	return SimpleName(class) + Extension
}

// SimpleName strips any package qualifier from class.
func SimpleName(class string) string {
	if i := strings.LastIndex(class, "."); i >= 0 {
		return class[i+1:]
	}
	return class
}

// Renderer reads templates from a filesystem.
type Renderer struct {
	fsys fs.FS
}

// NewRenderer creates a Renderer that reads templates from fsys.
func NewRenderer(fsys fs.FS) *Renderer {
	return &Renderer{fsys: fsys}
}

// Load reads the named template. It must exist and be non-empty.
func (r *Renderer) Load(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("jpfconf: invalid template name %q", name)
	}
	data, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		return "", fmt.Errorf("jpfconf: loading %s: %w", name, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmpty, name)
	}
	return string(data), nil
}

// Render loads the named template and interpolates ctx into it. Unknown
// fields are an error rather than a silent "<no value>".
func (r *Renderer) Render(name string, ctx Context) (string, error) {
	raw, err := r.Load(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("jpfconf: parsing template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("jpfconf: executing template %s: %w", name, err)
	}
	return buf.String(), nil
}
