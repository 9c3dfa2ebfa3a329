package nativecode

import (
	"fmt"
	"sort"
	"strings"
)

// FileManager is the view of the library a session compiles against. Library
// symbols are listed only when the filter admits them; units of the session
// are always listed.
type FileManager struct {
	lib    *Library
	filter Filter
	units  func() []Symbol
}

// List returns the symbols of pkg, including sub-packages when recursive.
func (fm *FileManager) List(pkg string, recursive bool) []Symbol {
	var out []Symbol
	for _, s := range fm.lib.Symbols() {
		if inPackage(s.Package, pkg, recursive) && fm.filter.Allow(s.QualifiedName()) {
			out = append(out, s)
		}
	}
	if fm.units != nil {
		for _, s := range fm.units() {
			if inPackage(s.Package, pkg, recursive) {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName() < out[j].QualifiedName() })
	return out
}

// Hidden reports whether name is a library symbol the filter rejects.
func (fm *FileManager) Hidden(qualified string) bool {
	_, ok := fm.lib.Lookup(qualified)
	return ok && !fm.filter.Allow(qualified)
}

// resolve returns the symbols visible to src keyed by the simple name they are
// called by. The unit's own package is always imported.
func (fm *FileManager) resolve(src Source) (map[string]Symbol, error) {
	imports := append([]string{src.Package}, src.Imports...)
	visible := make(map[string]Symbol)
	for _, imp := range imports {
		pkg, recursive := strings.TrimSuffix(imp, ".**"), strings.HasSuffix(imp, ".**")
		for _, s := range fm.List(pkg, recursive) {
			if prev, dup := visible[s.Name]; dup && prev.QualifiedName() != s.QualifiedName() {
				return nil, fmt.Errorf("ambiguous symbol %q: %s and %s", s.Name, prev.QualifiedName(), s.QualifiedName())
			}
			visible[s.Name] = s
		}
	}
	return visible, nil
}

// unresolvedCalls returns the library symbols called by simple name that
// are not visible, either because the filter rejects them or because no
// import lists their package.
func (fm *FileManager) unresolvedCalls(calls []string, visible map[string]Symbol) []string {
	var out []string
	for _, call := range calls {
		if _, ok := visible[call]; ok {
			continue
		}
		for _, s := range fm.lib.Symbols() {
			if s.Name == call {
				out = append(out, s.QualifiedName())
				break
			}
		}
	}
	return out
}

// allSymbols maps every library symbol by simple name. On clashes the
// greatest qualified name wins.
func allSymbols(lib *Library) map[string]Symbol {
	out := make(map[string]Symbol)
	for _, s := range lib.Symbols() {
		out[s.Name] = s
	}
	return out
}
