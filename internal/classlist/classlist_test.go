package classlist

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// writeTree creates empty files at the given slash-separated paths under root.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestClasses_ConvertsPathsToNames(t *testing.T) {
	// Given a source tree with Java and non-Java files
	base := t.TempDir()
	writeTree(t, base,
		"org/example/Foo.java",
		"org/example/util/Bar.java",
		"org/example/README.md",
		"org/example/Baz.class",
	)
	cl := New(filepath.Join(t.TempDir(), "classlist.txt"))

	// When Classes is called
	got, err := cl.Classes(base, "org/example")
	if err != nil {
		t.Fatalf("Classes() error = %v", err)
	}

	// Then only Java sources are listed as dotted names relative to base
	want := []string{"org.example.Foo", "org.example.util.Bar"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Classes() mismatch (-want +got):\n%s", diff)
	}
}

func TestClasses_TrailingSlashOnBase(t *testing.T) {
	// Given a base directory passed with a trailing separator, as the CLI default does
	base := t.TempDir()
	writeTree(t, base, "pkg/Foo.java")
	cl := New(filepath.Join(t.TempDir(), "classlist.txt"))

	// When Classes is called
	got, err := cl.Classes(base+string(filepath.Separator), "pkg")
	if err != nil {
		t.Fatal(err)
	}

	// Then the prefix is stripped cleanly
	if diff := cmp.Diff([]string{"pkg.Foo"}, got); diff != "" {
		t.Errorf("Classes() mismatch (-want +got):\n%s", diff)
	}
}

func TestClasses_Memoized(t *testing.T) {
	// Given a class list that has already scanned a tree
	base := t.TempDir()
	writeTree(t, base, "pkg/Foo.java")
	cl := New(filepath.Join(t.TempDir(), "classlist.txt"))
	first, err := cl.Classes(base, "pkg")
	if err != nil {
		t.Fatal(err)
	}

	// When the tree changes and Classes is called again
	writeTree(t, base, "pkg/Added.java")
	second, err := cl.Classes(base, "pkg")
	if err != nil {
		t.Fatal(err)
	}

	// Then the cached list is returned unchanged
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second call mismatch (-first +second):\n%s", diff)
	}
}

func TestRecompute_RescansTree(t *testing.T) {
	// Given a memoized class list
	base := t.TempDir()
	writeTree(t, base, "pkg/Foo.java")
	cl := New(filepath.Join(t.TempDir(), "classlist.txt"))
	if _, err := cl.Classes(base, "pkg"); err != nil {
		t.Fatal(err)
	}
	writeTree(t, base, "pkg/Added.java")

	// When Recompute is called
	got, err := cl.Recompute(base, "pkg")
	if err != nil {
		t.Fatal(err)
	}

	// Then the new file is discovered
	want := []string{"pkg.Added", "pkg.Foo"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recompute() mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_OneNamePerLine(t *testing.T) {
	// Given a tree with two classes
	base := t.TempDir()
	writeTree(t, base, "pkg/A.java", "pkg/B.java")
	out := filepath.Join(t.TempDir(), "classlist.txt")
	cl := New(out)

	// When Write is called
	classes, err := cl.Write(base, "pkg")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Then the file holds each name on its own line with a trailing newline
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pkg.A\npkg.B\n" {
		t.Errorf("file content = %q, want %q", data, "pkg.A\npkg.B\n")
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != len(classes) {
		t.Errorf("line count = %d, want %d", len(lines), len(classes))
	}
}

func TestWrite_EmptyTree(t *testing.T) {
	// Given an empty source directory
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "classlist.txt")
	cl := New(out)

	// When Write is called
	classes, err := cl.Write(base, "pkg")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Then the list is empty and the file exists with no content
	if len(classes) != 0 {
		t.Errorf("classes = %v, want empty", classes)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("class list file not created: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("file content = %q, want empty", data)
	}
}

func TestClasses_MissingRoot(t *testing.T) {
	cl := New(filepath.Join(t.TempDir(), "classlist.txt"))

	_, err := cl.Classes(t.TempDir(), "does/not/exist")

	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestFirst(t *testing.T) {
	t.Run("returns first discovered class", func(t *testing.T) {
		base := t.TempDir()
		writeTree(t, base, "pkg/A.java", "pkg/B.java")
		cl := New(filepath.Join(t.TempDir(), "classlist.txt"))

		got, err := cl.First(base, "pkg")
		if err != nil {
			t.Fatal(err)
		}
		if got != "pkg.A" {
			t.Errorf("First() = %q, want %q", got, "pkg.A")
		}
	})

	t.Run("empty tree", func(t *testing.T) {
		base := t.TempDir()
		if err := os.MkdirAll(filepath.Join(base, "pkg"), 0o755); err != nil {
			t.Fatal(err)
		}
		cl := New(filepath.Join(t.TempDir(), "classlist.txt"))

		_, err := cl.First(base, "pkg")
		if !errors.Is(err, ErrEmpty) {
			t.Errorf("First() error = %v, want ErrEmpty", err)
		}
	})
}
