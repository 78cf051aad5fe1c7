// Package model loads versioned model definitions from data files and
// keeps a registry of every (name, version) pair ever seen. Definitions
// declare the parameter schema, the invocation and the report layout for
// one scientific model.
package model

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/numerus/internal/params"
)

// InvocationMode selects how a worker runs the model.
type InvocationMode string

const (
	// ModeExecutable spawns a binary with fixed arguments inside the task
	// working directory.
	ModeExecutable InvocationMode = "executable"
	// ModeInterpreter spawns an interpreter and feeds it the parameter
	// assignments followed by the model script over stdin.
	ModeInterpreter InvocationMode = "interpreter"
)

// Invocation describes the subprocess a worker launches for the model.
type Invocation struct {
	Mode        InvocationMode `toml:"mode" yaml:"mode" json:"mode" validate:"required,oneof=executable interpreter"`
	Executable  string         `toml:"executable" yaml:"executable" json:"executable,omitempty"`
	Arguments   []string       `toml:"arguments" yaml:"arguments" json:"arguments,omitempty"`
	Interpreter string         `toml:"interpreter" yaml:"interpreter" json:"interpreter,omitempty"`
	Script      string         `toml:"script" yaml:"script" json:"script,omitempty"`
}

// Definition is one model plug-in as declared by a definition file.
// Version is the md5 hex digest of the file bytes, so any edit to the
// file yields a new version while old tasks keep resolving against the
// version they were submitted under.
type Definition struct {
	ShortName   string        `toml:"short_name" yaml:"short_name" json:"short_name" validate:"required"`
	FullName    string        `toml:"full_name" yaml:"full_name" json:"full_name"`
	Subtitle    string        `toml:"subtitle" yaml:"subtitle" json:"subtitle"`
	Description string        `toml:"description" yaml:"description" json:"description"`
	Parameters  []params.Spec `toml:"parameters" yaml:"parameters" json:"parameters" validate:"required,min=1,dive"`
	Attachments []string      `toml:"attachments" yaml:"attachments" json:"attachments"`
	Invocation  Invocation    `toml:"invocation" yaml:"invocation" json:"invocation"`
	LatexBody   string        `toml:"latex_body" yaml:"latex_body" json:"latex_body"`
	Abstract    bool          `toml:"abstract" yaml:"abstract" json:"-"`

	Version string `toml:"-" yaml:"-" json:"version"`
	Path    string `toml:"-" yaml:"-" json:"-"`
}

var validate = validator.New()

// VersionOf computes the content hash used as a definition version.
func VersionOf(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// ParseDefinition decodes a definition file. The format follows the file
// extension: .toml, .yaml or .yml.
func ParseDefinition(path string, raw []byte) (*Definition, error) {
	var def Definition

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format %q", ext)
	}

	def.Version = VersionOf(raw)
	def.Path = path

	// A base fragment is allowed to be incomplete; it is never run.
	if def.Abstract {
		return &def, nil
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model definition %s: %w", path, err)
	}
	return &def, nil
}

// Validate checks structural constraints beyond what decoding enforces.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}

	seen := make(map[string]bool, len(d.Parameters))
	for i := range d.Parameters {
		p := &d.Parameters[i]
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if p.Kind == params.KindSelect && len(p.Options) == 0 {
			return fmt.Errorf("select parameter %q has no options", p.Name)
		}
	}

	switch d.Invocation.Mode {
	case ModeExecutable:
		if d.Invocation.Executable == "" {
			return fmt.Errorf("model %q: executable invocation needs an executable", d.ShortName)
		}
	case ModeInterpreter:
		if d.Invocation.Interpreter == "" || d.Invocation.Script == "" {
			return fmt.Errorf("model %q: interpreter invocation needs interpreter and script", d.ShortName)
		}
	}
	return nil
}

// Parameter returns the spec with the given name, or nil.
func (d *Definition) Parameter(name string) *params.Spec {
	for i := range d.Parameters {
		if d.Parameters[i].Name == name {
			return &d.Parameters[i]
		}
	}
	return nil
}

// Title returns the display name, falling back to the short name.
func (d *Definition) Title() string {
	if d.FullName != "" {
		return d.FullName
	}
	return d.ShortName
}

// DescriptionHTML renders the markdown description for the web frontend.
func (d *Definition) DescriptionHTML() (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(d.Description), &buf); err != nil {
		return "", fmt.Errorf("failed to render description for %s: %w", d.ShortName, err)
	}
	return template.HTML(buf.String()), nil
}
