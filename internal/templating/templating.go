// Package templating renders the text templates carried by plans:
// conditional predicates and store queries. Templates use text/template
// syntax. Plan template functions are {{define}} blocks made available to
// every template rendered with them.
package templating

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/template"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

// Engine parses and renders templates. Parsed templates are cached by
// source; an Engine is safe for concurrent use.
type Engine struct {
	cache *lru.Cache[string, *template.Template]
}

// New returns an engine caching up to size parsed templates. A size <= 0
// selects the default.
func New(size int) *Engine {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *template.Template](size)
	if err != nil {
		panic(err)
	}
	return &Engine{cache: cache}
}

// Render executes text against data.
func (e *Engine) Render(text string, data map[string]any, functions []string) (string, error) {
	t, err := e.parse(text, functions)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templating: %w", err)
	}
	return buf.String(), nil
}

// Boolean renders text and reports whether the output is "true", ignoring
// case and surrounding space.
func (e *Engine) Boolean(text string, data map[string]any, functions []string) (bool, error) {
	out, err := e.Render(text, data, functions)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(out), "true"), nil
}

func (e *Engine) parse(text string, functions []string) (*template.Template, error) {
	key := cacheKey(text, functions)
	if t, ok := e.cache.Get(key); ok {
		return t, nil
	}
	root := template.New("template").Funcs(Funcs()).Option("missingkey=zero")
	for i, fn := range functions {
		if _, err := root.New("function" + strconv.Itoa(i)).Parse(fn); err != nil {
			return nil, fmt.Errorf("templating: template function %d: %w", i, err)
		}
	}
	t, err := root.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("templating: %w", err)
	}
	e.cache.Add(key, t)
	return t, nil
}

func cacheKey(text string, functions []string) string {
	h := sha256.New()
	for _, fn := range functions {
		h.Write([]byte(fn))
		h.Write([]byte{0})
	}
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Funcs returns the helper functions available to templates.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"sqlString":        sqlString,
		"sqlList":          sqlList,
		"isNull":           isNull,
		"size":             size,
		"equalsIgnoreCase": equalsIgnoreCase,
		"join":             join,
	}
}

// sqlString quotes v as an SQL string literal.
func sqlString(v any) string {
	if v == nil {
		return "null"
	}
	return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
}

// sqlLiteral renders strings quoted and other values as is.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return sqlString(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// sqlList renders v as a comma separated list of SQL literals.
func sqlList(v any) string {
	items := toList(v)
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = sqlLiteral(item)
	}
	return strings.Join(parts, ", ")
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func size(v any) int { return len(toList(v)) }

func equalsIgnoreCase(a, b any) bool {
	return strings.EqualFold(fmt.Sprint(a), fmt.Sprint(b))
}

func join(v any, sep string) string {
	items := toList(v)
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, sep)
}

func toList(v any) []any {
	if isNull(v) {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}
