package stage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/smileynet/jpfdoop/internal/config"
	"github.com/smileynet/jpfdoop/internal/process"
)

// fakeRunner records invocations and answers them with fn (success if nil).
type fakeRunner struct {
	calls []process.Invocation
	fn    func(inv process.Invocation) process.Result
}

func (f *fakeRunner) Run(_ context.Context, inv process.Invocation) process.Result {
	f.calls = append(f.calls, inv)
	if f.fn != nil {
		return f.fn(inv)
	}
	return process.Result{}
}

func testConfig() *config.Config {
	return &config.Config{
		File: "jpfdoop.ini",
		Paths: config.Paths{
			JPFCore:    "/opt/jpf-core",
			JPFJDart:   "/opt/jpf-jdart",
			SUTClasses: "build/sut",
			TestsDir:   "build/tests",
			JUnit:      "lib/junit.jar",
			Randoop:    "lib/randoop.jar",
			JaCoCo:     "lib/jacocoant.jar",
		},
		Tools: config.DefaultTools(),
	}
}

// inTempDir switches the working directory to a fresh temp dir.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRound_PrimarySource(t *testing.T) {
	want := filepath.Join("tests-1st-round", "Randoop1Test0.java")
	if got := Round1.PrimarySource(); got != want {
		t.Errorf("PrimarySource() = %q, want %q", got, want)
	}
}

func TestGenerateTests_Round1Invocation(t *testing.T) {
	// Given stages with a recording runner
	inTempDir(t)
	fr := &fakeRunner{}
	s := New(fr, testConfig())

	// When the first round is generated
	err := s.GenerateTests(context.Background(), NameGenerate1, Round1,
		GenerateParams{ClassListFile: "classlist.txt", TimeLimit: 30, OutputLimit: 20})
	if err != nil {
		t.Fatalf("GenerateTests() error = %v", err)
	}

	// Then Randoop is invoked with the exact generator flags
	if len(fr.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(fr.calls))
	}
	inv := fr.calls[0]
	want := []string{
		"-ea",
		"-cp", classpath("lib/randoop.jar", "lib/junit.jar", "build/sut"),
		"randoop.main.Main", "gentests",
		"--classlist=classlist.txt",
		"--junit-output-dir=tests-1st-round",
		"--junit-classname=Randoop1Test",
		"--timelimit=30",
		"--outputlimitrandom=20",
		"--forbid-null=false",
		"--small-tests=true",
	}
	if inv.Program != "java" {
		t.Errorf("Program = %q, want java", inv.Program)
	}
	if diff := cmp.Diff(want, inv.Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
	// And the round directory exists
	if fi, err := os.Stat("tests-1st-round"); err != nil || !fi.IsDir() {
		t.Errorf("round directory not created: %v", err)
	}
}

func TestGenerateTests_LiteralsMode(t *testing.T) {
	inTempDir(t)
	fr := &fakeRunner{}
	s := New(fr, testConfig())

	err := s.GenerateTests(context.Background(), NameGenerate2, Round2,
		GenerateParams{ClassListFile: "classlist.txt", TimeLimit: 30, OutputLimit: Round2OutputLimit, Literals: true})
	if err != nil {
		t.Fatal(err)
	}

	args := fr.calls[0].Args
	tail := args[len(args)-2:]
	if diff := cmp.Diff([]string{"--literals-file=concrete-values.txt", "--literals-level=ALL"}, tail); diff != "" {
		t.Errorf("literals flags mismatch (-want +got):\n%s", diff)
	}
	if !slices.Contains(args, "--outputlimitrandom=100000000") {
		t.Errorf("args %v missing round-2 output ceiling", args)
	}
}

func TestGenerateTests_RecreatesDirectory(t *testing.T) {
	// Given a generator that writes one file named after the generation
	inTempDir(t)
	gen := 0
	fr := &fakeRunner{fn: func(inv process.Invocation) process.Result {
		gen++
		name := filepath.Join(Round1.Dir, "Gen"+string(rune('0'+gen))+".java")
		if err := os.WriteFile(name, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		return process.Result{}
	}}
	s := New(fr, testConfig())
	params := GenerateParams{ClassListFile: "classlist.txt", TimeLimit: 1, OutputLimit: 1}

	// When the round is generated twice
	for range 2 {
		if err := s.GenerateTests(context.Background(), NameGenerate1, Round1, params); err != nil {
			t.Fatal(err)
		}
	}

	// Then only the second generation's output remains
	entries, err := os.ReadDir(Round1.Dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"Gen2.java"}, names); diff != "" {
		t.Errorf("round directory mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateTests_FailureIsFatal(t *testing.T) {
	// Given a generator that exits non-zero
	inTempDir(t)
	fr := &fakeRunner{fn: func(process.Invocation) process.Result {
		return process.Result{ExitCode: 1, Output: "boom"}
	}}
	params := GenerateParams{ClassListFile: "classlist.txt", TimeLimit: 1, OutputLimit: 1}

	// When generation runs
	err := New(fr, testConfig()).GenerateTests(context.Background(), NameGenerate1, Round1, params)

	// Then a ToolError names the stage
	var te *process.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *process.ToolError", err)
	}
	if te.Stage != NameGenerate1 || te.ExitCode != 1 {
		t.Errorf("ToolError = %+v", te)
	}

	// And lenient mode only warns
	var logs bytes.Buffer
	s := New(fr, testConfig(), WithLenient(true), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if err := s.GenerateTests(context.Background(), NameGenerate1, Round1, params); err != nil {
		t.Errorf("lenient GenerateTests() error = %v, want nil", err)
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("lenient run did not log a warning:\n%s", logs.String())
	}
}

func TestSymbolize(t *testing.T) {
	// Given a symbolizer that writes the manifest
	root := filepath.Join(inTempDir(t), "src")
	fr := &fakeRunner{fn: func(process.Invocation) process.Result {
		writeFile(t, filepath.Join(root, SymbolicPackage, ManifestName), "pkg.Foo\n")
		return process.Result{}
	}}
	cfg := testConfig()
	cfg.Tools.Symbolizer = "java -jar symbolizer.jar"

	// When Symbolize runs
	set, err := New(fr, cfg).Symbolize(context.Background(), Round1, root)
	if err != nil {
		t.Fatalf("Symbolize() error = %v", err)
	}

	// Then the configured command receives the hand-off locations
	inv := fr.calls[0]
	want := []string{"-jar", "symbolizer.jar",
		"--package", "randooped",
		"--root", root,
		"--manifest", "classes-to-analyze",
		"--input", filepath.Join("tests-1st-round", "Randoop1Test0.java"),
	}
	if inv.Program != "java" {
		t.Errorf("Program = %q, want java", inv.Program)
	}
	if diff := cmp.Diff(want, inv.Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
	if got, want := set.ManifestPath(), filepath.Join(root, "randooped", "classes-to-analyze"); got != want {
		t.Errorf("ManifestPath() = %q, want %q", got, want)
	}
}

func TestSymbolize_MissingManifest(t *testing.T) {
	root := filepath.Join(inTempDir(t), "src")

	_, err := New(&fakeRunner{}, testConfig()).Symbolize(context.Background(), Round1, root)

	if !errors.Is(err, ErrMissingManifest) {
		t.Errorf("error = %v, want ErrMissingManifest", err)
	}
}

func TestGenerateAnalysisConfigs(t *testing.T) {
	// Given a manifest with a qualified and a simple class name
	root := t.TempDir()
	set := SymbolicUnitTestSet{Package: SymbolicPackage, RootDir: root, Manifest: ManifestName}
	writeFile(t, set.ManifestPath(), "pkg.Foo\r\n\nBar\n")

	// When configs are generated
	paths, err := New(&fakeRunner{}, testConfig()).GenerateAnalysisConfigs(set)
	if err != nil {
		t.Fatalf("GenerateAnalysisConfigs() error = %v", err)
	}

	// Then one .jpf per class sits next to the symbolized sources
	want := []string{
		filepath.Join(root, "randooped", "Foo.jpf"),
		filepath.Join(root, "randooped", "Bar.jpf"),
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{"target = randooped.Foo", "classpath = build/tests,lib/junit.jar"} {
		if !strings.Contains(string(data), line) {
			t.Errorf("Foo.jpf missing %q:\n%s", line, data)
		}
	}
}

func TestGenerateAnalysisConfigs_TemplateOverride(t *testing.T) {
	root := t.TempDir()
	set := SymbolicUnitTestSet{Package: SymbolicPackage, RootDir: root, Manifest: ManifestName}
	writeFile(t, set.ManifestPath(), "Foo\n")
	fsys := fstest.MapFS{"analysis.jpf.tmpl": &fstest.MapFile{Data: []byte("custom {{.Class}}\n")}}

	paths, err := New(&fakeRunner{}, testConfig(), WithTemplates(fsys)).GenerateAnalysisConfigs(set)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "custom Foo\n" {
		t.Errorf("content = %q, want %q", data, "custom Foo\n")
	}
}

func TestRunSymbolicExecution_ContinuesPastTimeouts(t *testing.T) {
	// Given three manifest entries and an engine that times out on the second
	root := t.TempDir()
	set := SymbolicUnitTestSet{Package: SymbolicPackage, RootDir: root, Manifest: ManifestName}
	writeFile(t, set.ManifestPath(), "A\nB\nC\n")
	fr := &fakeRunner{fn: func(inv process.Invocation) process.Result {
		if strings.HasSuffix(inv.Args[0], "B.jpf") {
			return process.Result{ExitCode: -1, TimedOut: true}
		}
		return process.Result{}
	}}

	// When symbolic execution runs
	outcomes, err := New(fr, testConfig()).RunSymbolicExecution(context.Background(), set)

	// Then it does not fail
	if err != nil {
		t.Fatalf("RunSymbolicExecution() error = %v", err)
	}
	// And the engine ran once per entry, in manifest order, with the deadline
	var got []string
	for _, inv := range fr.calls {
		if inv.Program != filepath.Join("/opt/jpf-core", "bin", "jpf") {
			t.Errorf("Program = %q", inv.Program)
		}
		if inv.Timeout != config.DefaultTools().JDartTimeout {
			t.Errorf("Timeout = %v, want %v", inv.Timeout, config.DefaultTools().JDartTimeout)
		}
		got = append(got, inv.Args[0])
	}
	want := []string{set.ConfigPath("A"), set.ConfigPath("B"), set.ConfigPath("C")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	wantOutcomes := []ClassOutcome{
		{Class: "A"},
		{Class: "B", ExitCode: -1, TimedOut: true},
		{Class: "C"},
	}
	if diff := cmp.Diff(wantOutcomes, outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSymbolicExecution_FailureWarns(t *testing.T) {
	root := t.TempDir()
	set := SymbolicUnitTestSet{Package: SymbolicPackage, RootDir: root, Manifest: ManifestName}
	writeFile(t, set.ManifestPath(), "A\n")
	fr := &fakeRunner{fn: func(process.Invocation) process.Result { return process.Result{ExitCode: 3} }}
	var logs bytes.Buffer
	s := New(fr, testConfig(), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	outcomes, err := s.RunSymbolicExecution(context.Background(), set)

	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	if len(outcomes) != 1 || outcomes[0].ExitCode != 3 {
		t.Errorf("outcomes = %+v", outcomes)
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected warning, logs:\n%s", logs.String())
	}
}

func TestRunSymbolicExecution_Cancelled(t *testing.T) {
	root := t.TempDir()
	set := SymbolicUnitTestSet{Package: SymbolicPackage, RootDir: root, Manifest: ManifestName}
	writeFile(t, set.ManifestPath(), "A\nB\n")
	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeRunner{fn: func(process.Invocation) process.Result {
		cancel()
		return process.Result{ExitCode: -1, Err: context.Canceled}
	}}

	_, err := New(fr, testConfig()).RunSymbolicExecution(ctx, set)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(fr.calls) != 1 {
		t.Errorf("calls = %d, want 1 (stop after cancellation)", len(fr.calls))
	}
}

func TestCompile_ExpandsSources(t *testing.T) {
	// Given a round directory with two sources
	inTempDir(t)
	writeFile(t, filepath.Join(Round1.Dir, "Randoop1Test.java"), "")
	writeFile(t, filepath.Join(Round1.Dir, "Randoop1Test0.java"), "")
	fr := &fakeRunner{}

	// When the round is compiled
	if err := New(fr, testConfig()).Compile(context.Background(), NameCompile1, Round1); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	// Then javac receives every source and the tests dir exists
	want := []string{"-g", "-d", "build/tests", "-cp", classpath("build/sut", "lib/junit.jar"),
		filepath.Join(Round1.Dir, "Randoop1Test.java"),
		filepath.Join(Round1.Dir, "Randoop1Test0.java"),
	}
	if diff := cmp.Diff(want, fr.calls[0].Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat("build/tests"); err != nil {
		t.Errorf("tests dir not created: %v", err)
	}
}

func TestCompile_NoSources(t *testing.T) {
	inTempDir(t)
	if err := os.MkdirAll(Round2.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	fr := &fakeRunner{}

	err := New(fr, testConfig()).Compile(context.Background(), NameCompile2, Round2)

	if !errors.Is(err, ErrNoSources) {
		t.Errorf("error = %v, want ErrNoSources", err)
	}
	if len(fr.calls) != 0 {
		t.Errorf("javac invoked %d times, want 0", len(fr.calls))
	}
}

func TestCompileSymbolic_Classpath(t *testing.T) {
	inTempDir(t)
	set := SymbolicUnitTestSet{Package: SymbolicPackage, RootDir: "src", Manifest: ManifestName}
	writeFile(t, filepath.Join(set.Dir(), "Foo.java"), "")
	fr := &fakeRunner{}

	if err := New(fr, testConfig()).CompileSymbolic(context.Background(), set); err != nil {
		t.Fatal(err)
	}

	inv := fr.calls[0]
	wantCP := classpath(
		filepath.Join("/opt/jpf-jdart", "build"),
		filepath.Join("/opt/jpf-jdart", "build", "annotations")+string(filepath.Separator),
		"build/sut", "build/tests", "lib/junit.jar",
	)
	if inv.Stage != NameCompileSym {
		t.Errorf("Stage = %q, want %q", inv.Stage, NameCompileSym)
	}
	if inv.Args[4] != wantCP {
		t.Errorf("classpath = %q, want %q", inv.Args[4], wantCP)
	}
	if last := inv.Args[len(inv.Args)-1]; last != filepath.Join("src", "randooped", "Foo.java") {
		t.Errorf("source = %q", last)
	}
}

func TestSubstituteConcreteValues(t *testing.T) {
	fr := &fakeRunner{fn: func(process.Invocation) process.Result { return process.Result{ExitCode: 2} }}

	err := New(fr, testConfig()).SubstituteConcreteValues(context.Background(), "pkg.Foo")

	// A failing helper is only a warning.
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	inv := fr.calls[0]
	if inv.Program != "python" {
		t.Errorf("Program = %q, want python", inv.Program)
	}
	if diff := cmp.Diff([]string{"put-class-name.py", "--classname", "pkg.Foo"}, inv.Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
}
