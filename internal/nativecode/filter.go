package nativecode

import "strings"

// Filter decides which library symbols generated code may resolve.
type Filter interface {
	Allow(qualifiedName string) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(qualifiedName string) bool

func (f FilterFunc) Allow(name string) bool { return f(name) }

// All admits every symbol.
func All() Filter { return FilterFunc(func(string) bool { return true }) }

// None admits no symbol.
func None() Filter { return FilterFunc(func(string) bool { return false }) }

// Names admits exactly the given qualified names.
func Names(names ...string) Filter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return FilterFunc(func(name string) bool {
		_, ok := set[name]
		return ok
	})
}

// Packages admits every symbol of the given packages and their
// sub-packages.
func Packages(pkgs ...string) Filter {
	return FilterFunc(func(name string) bool {
		pkg, _ := splitQualified(name)
		for _, p := range pkgs {
			if pkg == p || strings.HasPrefix(pkg, p+".") {
				return true
			}
		}
		return false
	})
}

// And admits symbols admitted by every filter.
func And(filters ...Filter) Filter {
	return FilterFunc(func(name string) bool {
		for _, f := range filters {
			if !f.Allow(name) {
				return false
			}
		}
		return true
	})
}

// Or admits symbols admitted by any filter.
func Or(filters ...Filter) Filter {
	return FilterFunc(func(name string) bool {
		for _, f := range filters {
			if f.Allow(name) {
				return true
			}
		}
		return false
	})
}

// Not admits symbols rejected by f.
func Not(f Filter) Filter {
	return FilterFunc(func(name string) bool { return !f.Allow(name) })
}
