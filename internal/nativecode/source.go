// Package nativecode compiles the generated code carried by execution plans
// into loadable units.
//
// A unit is the compiled form of a Source: a qualified name, the
// capabilities it implements and a set of methods whose bodies are
// expressions compiled with expr. Units are compiled in memory into a
// UnitBuffer and loaded through a Session, which behaves as a class loader:
// units compiled in the session are looked up first, then the parent Loader.
//
// What generated code may call is controlled by the import list of each
// source, resolved through a FileManager. The FileManager exposes the
// Library symbols admitted by a Filter plus every unit of the session.
package nativecode

import (
	"fmt"
	"strings"
)

// SerializeSpecifics is the capability of units that serialize the result
// of their node themselves through a "serialize" method.
const SerializeSpecifics = "SerializeSpecifics"

// Method is one method of a generated unit.
type Method struct {
	Name   string   `json:"name"`
	Params []string `json:"params,omitempty"`
	Body   string   `json:"body"`
}

// Source is generated code for one unit.
type Source struct {
	Package    string   `json:"package"`
	Name       string   `json:"name"`
	Implements []string `json:"implements,omitempty"`
	// Imports lists the library packages the unit may call. An import ending
	// in ".**" also admits every sub-package.
	Imports []string `json:"imports,omitempty"`
	Methods []Method `json:"methods"`
}

// QualifiedName returns package.Name.
func (s Source) QualifiedName() string { return qualify(s.Package, s.Name) }

// Validate checks the structural rules of a source.
func (s Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("nativecode: source without name")
	}
	if strings.ContainsAny(s.Name, ". ") {
		return fmt.Errorf("nativecode: invalid unit name %q", s.Name)
	}
	seen := map[string]bool{}
	for _, m := range s.Methods {
		if m.Name == "" {
			return fmt.Errorf("nativecode: %s: method without name", s.QualifiedName())
		}
		if seen[m.Name] {
			return fmt.Errorf("nativecode: %s: duplicate method %q", s.QualifiedName(), m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

func qualify(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// splitQualified splits a qualified name at its last dot.
func splitQualified(name string) (pkg, simple string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// inPackage reports whether pkg is want, or a sub-package of it when
// recursive.
func inPackage(pkg, want string, recursive bool) bool {
	if pkg == want {
		return true
	}
	return recursive && (want == "" || strings.HasPrefix(pkg, want+"."))
}

// unitFunc is the name methods of a unit are called by from other units.
func unitFunc(unit, method string) string { return unit + "_" + method }
