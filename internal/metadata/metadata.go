// Package metadata defines the class-metadata model the daemon caches.
//
// The shape of the payload (kind, modifiers, members, ...) is owned by the
// parser collaborator; this package only fixes the identity fields the core
// depends on (fqcn, file) plus the equality/clone contract the core requires
// to treat the payload opaquely.
package metadata

import "path/filepath"

// Class is one discovered class-like declaration (class, interface, trait,
// or enum) together with everything the source-language parser extracted
// about it. The core only inspects FQCN and File; everything else is an
// opaque payload that must support equality and cloning.
type Class struct {
	// FQCN is the fully-qualified name, globally unique across a scan.
	FQCN string `yaml:"fqcn" json:"fqcn"`
	// File is the absolute, canonicalised source path.
	File string `yaml:"file" json:"file"`

	Kind       string              `yaml:"type" json:"type"`
	Modifiers  Modifiers           `yaml:"modifiers" json:"modifiers"`
	Attributes map[string][]Args   `yaml:"attributes" json:"attributes"`
	Extends    string              `yaml:"extends,omitempty" json:"extends,omitempty"`
	Implements []string            `yaml:"implements" json:"implements"`
	Methods    []Method            `yaml:"methods" json:"methods"`
	Properties []Property          `yaml:"properties" json:"properties"`
	BackingType string             `yaml:"backing_type,omitempty" json:"backing_type,omitempty"`
	Cases      []EnumCase          `yaml:"cases" json:"cases"`
}

// Args is one instance's worth of attribute arguments (positional or named).
type Args []Arg

// Arg is a single attribute argument. Key is empty for positional arguments.
type Arg struct {
	Key   string `yaml:"key,omitempty" json:"key,omitempty"`
	Value string `yaml:"value" json:"value"`
}

// Modifiers captures class-level modifiers.
type Modifiers struct {
	Abstract bool `yaml:"abstract" json:"abstract"`
	Final    bool `yaml:"final" json:"final"`
	Readonly bool `yaml:"readonly" json:"readonly"`
}

// Method describes one method of a class.
type Method struct {
	Name       string              `yaml:"name" json:"name"`
	Visibility string              `yaml:"visibility" json:"visibility"`
	Modifiers  MethodModifiers     `yaml:"modifiers" json:"modifiers"`
	Attributes map[string][]Args   `yaml:"attributes" json:"attributes"`
	Parameters []Parameter         `yaml:"parameters" json:"parameters"`
	ReturnType string              `yaml:"return_type,omitempty" json:"return_type,omitempty"`
}

// MethodModifiers captures method-level modifiers.
type MethodModifiers struct {
	Abstract bool `yaml:"abstract" json:"abstract"`
	Final    bool `yaml:"final" json:"final"`
	Static   bool `yaml:"static" json:"static"`
}

// Parameter describes a single method parameter.
type Parameter struct {
	Name         string              `yaml:"name" json:"name"`
	TypeHint     string              `yaml:"type,omitempty" json:"type,omitempty"`
	DefaultValue string              `yaml:"default,omitempty" json:"default,omitempty"`
	Attributes   map[string][]Args   `yaml:"attributes" json:"attributes"`
}

// Property describes one class property.
type Property struct {
	Name         string              `yaml:"name" json:"name"`
	Visibility   string              `yaml:"visibility" json:"visibility"`
	Modifiers    PropertyModifiers   `yaml:"modifiers" json:"modifiers"`
	TypeHint     string              `yaml:"type,omitempty" json:"type,omitempty"`
	DefaultValue string              `yaml:"default,omitempty" json:"default,omitempty"`
	Attributes   map[string][]Args   `yaml:"attributes" json:"attributes"`
}

// PropertyModifiers captures property-level modifiers.
type PropertyModifiers struct {
	Static   bool `yaml:"static" json:"static"`
	Readonly bool `yaml:"readonly" json:"readonly"`
}

// EnumCase describes one case of a backed or pure enum.
type EnumCase struct {
	Name       string             `yaml:"name" json:"name"`
	Value      string             `yaml:"value,omitempty" json:"value,omitempty"`
	Attributes map[string][]Args  `yaml:"attributes" json:"attributes"`
}

// Clone returns a deep copy safe to hand to a concurrent reader.
func (c Class) Clone() Class {
	out := c
	out.Implements = append([]string(nil), c.Implements...)
	out.Attributes = cloneAttrs(c.Attributes)
	out.Methods = make([]Method, len(c.Methods))
	for i, m := range c.Methods {
		out.Methods[i] = m.clone()
	}
	out.Properties = make([]Property, len(c.Properties))
	for i, p := range c.Properties {
		out.Properties[i] = p.clone()
	}
	out.Cases = make([]EnumCase, len(c.Cases))
	for i, e := range c.Cases {
		out.Cases[i] = e.clone()
	}
	return out
}

func (m Method) clone() Method {
	out := m
	out.Attributes = cloneAttrs(m.Attributes)
	out.Parameters = make([]Parameter, len(m.Parameters))
	for i, p := range m.Parameters {
		out.Parameters[i] = p.clone()
	}
	return out
}

func (p Parameter) clone() Parameter {
	out := p
	out.Attributes = cloneAttrs(p.Attributes)
	return out
}

func (p Property) clone() Property {
	out := p
	out.Attributes = cloneAttrs(p.Attributes)
	return out
}

func (e EnumCase) clone() EnumCase {
	out := e
	out.Attributes = cloneAttrs(e.Attributes)
	return out
}

func cloneAttrs(in map[string][]Args) map[string][]Args {
	if in == nil {
		return nil
	}
	out := make(map[string][]Args, len(in))
	for k, v := range in {
		cp := make([]Args, len(v))
		for i, args := range v {
			cp[i] = append(Args(nil), args...)
		}
		out[k] = cp
	}
	return out
}

// Equal reports whether two entries describe the same class identity and
// the same file location. The core only ever needs identity equality, not
// a deep structural comparison of the opaque payload.
func (c Class) Equal(other Class) bool {
	return c.FQCN == other.FQCN && c.File == other.File
}

// CanonicalFile returns file with symlinks resolved, so the scanner, the
// watcher and the cache/manifest all key the same file under the same
// string even when a root contains a symlink component. If path itself
// can no longer be resolved (e.g. a removed event fired after the file
// is gone), its parent directory is resolved instead and the original
// base name is kept; if even that fails, the cleaned path is returned.
func CanonicalFile(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir := filepath.Dir(path)
	if resolvedDir, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolvedDir, filepath.Base(path))
	}
	return filepath.Clean(path)
}
