// Package config loads the pipeline's INI configuration and resolves tool paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-ini/ini"
)

// DefaultFile is the configuration file read when none is given.
const DefaultFile = "jpfdoop.ini"

// Required section names.
const (
	SectionPipeline = "jpfdoop"
	SectionSUT      = "sut"
	SectionTests    = "tests"
	SectionLib      = "lib"
)

// RequiredSections lists every section a configuration file must contain.
var RequiredSections = []string{SectionPipeline, SectionSUT, SectionTests, SectionLib}

// Paths holds the resolved filesystem locations of the external tools and
// compilation directories. It is passed by value and never mutated after Load.
type Paths struct {
	JPFCore    string // jpfdoop.jpf-core: JPF root (bin/jpf lives here).
	JPFJDart   string // jpfdoop.jpf-jdart: JDart root (build/ and build/annotations/).
	SUTClasses string // sut.compilation-directory
	TestsDir   string // tests.compilation-directory
	JUnit      string // lib.junit
	Randoop    string // lib.randoop
	JaCoCo     string // lib.jacoco
}

// Tools holds optional settings for the helper tools the pipeline shells out to.
type Tools struct {
	Symbolizer   string        // jpfdoop.symbolizer: command that symbolizes generated tests.
	PutClassName string        // jpfdoop.put-class-name: command that seeds the literals file.
	Templates    string        // jpfdoop.templates: directory overriding embedded templates.
	JDartTimeout time.Duration // jpfdoop.jdart-timeout: per-class symbolic execution deadline.
}

// Config is the validated configuration for one pipeline run.
type Config struct {
	File  string
	Paths Paths
	Tools Tools
}

// DefaultTools returns the optional settings used when the file omits them.
func DefaultTools() Tools {
	return Tools{
		Symbolizer:   "symbolize-tests",
		PutClassName: "python put-class-name.py",
		Templates:    "templates",
		JDartTimeout: 20 * time.Second,
	}
}

// ValidationError lists everything wrong with a configuration file.
type ValidationError struct {
	File     string
	Sections []string // Missing sections.
	Keys     []string // Missing or empty keys, as section.key.
	Invalid  []string // Keys present with unusable values.
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Sections) > 0 {
		names := make([]string, len(e.Sections))
		for i, s := range e.Sections {
			names[i] = "[" + s + "]"
		}
		parts = append(parts, "missing sections "+strings.Join(names, ", "))
	}
	if len(e.Keys) > 0 {
		parts = append(parts, "missing keys "+strings.Join(e.Keys, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid values "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("config: %s: %s", e.File, strings.Join(parts, "; "))
}

func (e *ValidationError) empty() bool {
	return len(e.Sections) == 0 && len(e.Keys) == 0 && len(e.Invalid) == 0
}

// requiredKey binds a section.key to the Paths field it populates.
type requiredKey struct {
	section string
	key     string
	dest    func(*Paths) *string
}

var requiredKeys = []requiredKey{
	{SectionPipeline, "jpf-core", func(p *Paths) *string { return &p.JPFCore }},
	{SectionPipeline, "jpf-jdart", func(p *Paths) *string { return &p.JPFJDart }},
	{SectionSUT, "compilation-directory", func(p *Paths) *string { return &p.SUTClasses }},
	{SectionTests, "compilation-directory", func(p *Paths) *string { return &p.TestsDir }},
	{SectionLib, "junit", func(p *Paths) *string { return &p.JUnit }},
	{SectionLib, "randoop", func(p *Paths) *string { return &p.Randoop }},
	{SectionLib, "jacoco", func(p *Paths) *string { return &p.JaCoCo }},
}

// Load reads and validates the configuration file at path. Every missing
// section and key is reported in a single *ValidationError; there is no
// partially loaded result.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	verr := &ValidationError{File: path}
	for _, name := range RequiredSections {
		if _, err := f.GetSection(name); err != nil {
			verr.Sections = append(verr.Sections, name)
		}
	}

	cfg := &Config{File: path, Tools: DefaultTools()}
	for _, rk := range requiredKeys {
		v, ok := lookup(f, rk.section, rk.key)
		if !ok {
			verr.Keys = append(verr.Keys, rk.section+"."+rk.key)
			continue
		}
		*rk.dest(&cfg.Paths) = v
	}

	if v, ok := lookup(f, SectionPipeline, "symbolizer"); ok {
		cfg.Tools.Symbolizer = v
	}
	if v, ok := lookup(f, SectionPipeline, "put-class-name"); ok {
		cfg.Tools.PutClassName = v
	}
	if v, ok := lookup(f, SectionPipeline, "templates"); ok {
		cfg.Tools.Templates = v
	}
	if v, ok := lookup(f, SectionPipeline, "jdart-timeout"); ok {
		d, err := ParseTimeout(v)
		if err != nil {
			verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s.jdart-timeout (%v)", SectionPipeline, err))
		} else {
			cfg.Tools.JDartTimeout = d
		}
	}

	if !verr.empty() {
		return nil, verr
	}
	return cfg, nil
}

// lookup returns a trimmed, non-empty key value.
func lookup(f *ini.File, section, key string) (string, bool) {
	sec, err := f.GetSection(section)
	if err != nil {
		return "", false
	}
	k, err := sec.GetKey(key)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(k.String())
	return v, v != ""
}

// ParseTimeout accepts a Go duration ("20s", "1m") or a bare number of seconds.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %v", d)
	}
	return d, nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: JPFDOOP_JPF_CORE, JPFDOOP_JPF_JDART, JPFDOOP_JDART_TIMEOUT.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("JPFDOOP_JPF_CORE"); v != "" {
		c.Paths.JPFCore = v
	}
	if v := os.Getenv("JPFDOOP_JPF_JDART"); v != "" {
		c.Paths.JPFJDart = v
	}
	if v := os.Getenv("JPFDOOP_JDART_TIMEOUT"); v != "" {
		d, err := ParseTimeout(v)
		if err != nil {
			return fmt.Errorf("config: invalid JPFDOOP_JDART_TIMEOUT %q: %w", v, err)
		}
		c.Tools.JDartTimeout = d
	}
	return nil
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
