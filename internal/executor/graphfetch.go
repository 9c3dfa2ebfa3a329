package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"go.uber.org/zap"
)

func (e *Executor) executeGraphFetch(ctx context.Context, n *plan.GraphFetchNode, state *State) (result.Result, error) {
	batchSize := n.BatchSize
	if batchSize <= 0 {
		batchSize = e.opts.BatchSize
	}
	ctx, endScope := scope(ctx, "graph fetch", map[string]any{"batchSize": batchSize})
	var once sync.Once
	end := func(err error) { once.Do(func() { endScope(err) }) }

	rctx, endRoot := scope(ctx, "graph fetch root", nil)
	root, err := e.Execute(rctx, n.Root, state)
	endRoot(err)
	if err != nil {
		end(err)
		return nil, err
	}
	stream, err := asStream(root)
	if err != nil {
		closeResult(root)
		end(err)
		return nil, err
	}

	builder := stream.Builder()
	if builder.Type == "" {
		builder.Type = result.BuilderObject
	}
	builder.Tree = n.Tree

	var seq result.Seq
	if n.Implementation != nil {
		unit, err := e.loadUnit(state, n.Implementation)
		if err != nil {
			closeResult(stream)
			end(err)
			return nil, err
		}
		class, method := n.Implementation.ClassName, n.Implementation.Method()
		seq = func(yield func(any, error) bool) {
			for obj, err := range stream.Objects() {
				if err == nil {
					obj, err = unit.Invoke(method, obj, state)
					if err != nil {
						err = &PlatformError{Class: class, Err: err}
					}
				}
				if err != nil {
					closeResult(stream)
					end(err)
					yield(nil, err)
					return
				}
				if !yield(obj, nil) {
					return
				}
			}
			end(nil)
		}
	} else {
		seq = e.batches(ctx, n, state, stream, batchSize, end)
	}

	out := result.NewStreamingObject(seq, builder, stream, func() error { end(nil); return nil })
	if _, ok := state.InAllocation(); ok && n.ResultSizeRange != nil && n.ResultSizeRange.IsToOne() {
		values, err := out.Values()
		if err != nil {
			return nil, err
		}
		switch len(values) {
		case 0:
			return &result.Constant{}, nil
		case 1:
			return &result.Constant{Value: values[0]}, nil
		default:
			return &result.Constant{Value: values}, nil
		}
	}
	return out, nil
}

// batches returns the lazy sequence of the objects of every batch. A batch
// is produced only when the previous one was full.
func (e *Executor) batches(ctx context.Context, n *plan.GraphFetchNode, state *State, stream *result.StreamingObject, batchSize int, end func(error)) result.Seq {
	return func(yield func(any, error) bool) {
		next, stop := iter.Pull2(stream.Objects())
		defer stop()
		for i := 0; ; i++ {
			objects, err := e.executeBatch(ctx, n, state, next, batchSize, i)
			if err != nil {
				stop()
				closeResult(stream)
				end(err)
				yield(nil, err)
				return
			}
			for _, obj := range objects {
				if !yield(obj, nil) {
					return
				}
			}
			if len(objects) == 0 || len(objects) < batchSize {
				end(nil)
				return
			}
		}
	}
}

func (e *Executor) executeBatch(ctx context.Context, n *plan.GraphFetchNode, state *State, next func() (any, error, bool), batchSize, index int) ([]any, error) {
	attrs := map[string]any{"batch": index}
	ctx, end := scope(ctx, "graph fetch batch", attrs)
	start := time.Now()

	gs := newGraphExecutionState(batchSize, e.opts.MemoryLimit)
	bs := state.fork(false)
	bs.graph = gs
	bs.cursor = &cursor{next: next, limit: batchSize, root: true}

	objects, err := e.runBatch(ctx, n, bs)
	attrs["rows"] = gs.Rows()
	end(err)
	if err != nil {
		return nil, err
	}
	if len(objects) > 0 {
		e.opts.Metrics.Batch(gs.Rows())
	}
	e.log.Debug("graph fetch batch",
		zap.Int("batch", index),
		zap.Int("rows", gs.Rows()),
		zap.Int64("memory", gs.Memory()),
		zap.Duration("duration", time.Since(start)))
	return objects, nil
}

func (e *Executor) runBatch(ctx context.Context, n *plan.GraphFetchNode, bs *State) ([]any, error) {
	local := n.Local
	if local == nil {
		local = &plan.LocalGraphFetchNode{Tree: n.Tree}
	}
	r, err := e.Execute(ctx, local, bs)
	if err != nil {
		return nil, err
	}
	v, err := result.Value(r)
	if err != nil {
		return nil, err
	}
	objects, _ := v.([]any)
	if len(objects) == 0 {
		return objects, nil
	}
	for _, child := range n.Children {
		if _, err := e.Execute(ctx, child, bs); err != nil {
			return nil, err
		}
	}
	return objects, nil
}

func (e *Executor) executeLocalGraphFetch(n *plan.LocalGraphFetchNode, state *State) (result.Result, error) {
	gs, cur := state.graph, state.cursor
	objects := []any{}
	for cur.limit <= 0 || len(objects) < cur.limit {
		obj, err, ok := cur.next()
		if !ok {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := gs.track(obj); err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	gs.objects[n.NodeIndex] = append(gs.objects[n.NodeIndex], objects...)
	if cur.root {
		gs.rows += len(objects)
	}
	return &result.Constant{Value: objects}, nil
}

func (e *Executor) executeGlobalGraphFetch(ctx context.Context, n *plan.GlobalGraphFetchNode, state *State) (result.Result, error) {
	ctx, end := scope(ctx, "graph fetch child", map[string]any{"property": n.Property})
	err := e.fetchChild(ctx, n, state)
	end(err)
	if err != nil {
		return nil, err
	}
	return &result.Constant{}, nil
}

func (e *Executor) fetchChild(ctx context.Context, n *plan.GlobalGraphFetchNode, state *State) error {
	if len(n.ParentKeys) == 0 || len(n.ParentKeys) != len(n.ChildKeys) {
		return &GraphFetchError{Property: n.Property, Reason: "parent and child keys do not match"}
	}
	if n.Source == nil {
		return &GraphFetchError{Property: n.Property, Reason: "no source node"}
	}
	parents := state.graph.Objects(n.ParentIndex)
	if len(parents) == 0 {
		return nil
	}

	cs := state.fork(true)
	cs.Bind(n.Variable(), parentKeys(parents, n))
	src, err := e.Execute(ctx, n.Source, cs)
	if err != nil {
		return err
	}
	stream, err := asStream(src)
	if err != nil {
		closeResult(src)
		return err
	}
	children, err := e.materialize(ctx, n, cs, stream)
	if cerr := stream.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if err := join(n, parents, children); err != nil {
		return err
	}
	for _, child := range n.Children {
		if _, err := e.Execute(ctx, child, state); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) materialize(ctx context.Context, n *plan.GlobalGraphFetchNode, cs *State, stream *result.StreamingObject) ([]any, error) {
	next, stop := iter.Pull2(stream.Objects())
	defer stop()
	cs.cursor = &cursor{next: next}

	local := n.Local
	if local == nil {
		local = &plan.LocalGraphFetchNode{NodeIndex: -1}
	}
	r, err := e.Execute(ctx, local, cs)
	if err != nil {
		return nil, err
	}
	v, err := result.Value(r)
	if err != nil {
		return nil, err
	}
	children, _ := v.([]any)
	return children, nil
}

// parentKeys returns the distinct keys of parents: scalars for single key
// joins, otherwise objects keyed by the child key names.
func parentKeys(parents []any, n *plan.GlobalGraphFetchNode) []any {
	seen := make(map[string]bool, len(parents))
	out := []any{}
	for _, p := range parents {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		k, ok := joinKey(m, n.ParentKeys)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		if len(n.ParentKeys) == 1 {
			out = append(out, m[n.ParentKeys[0]])
			continue
		}
		km := make(map[string]any, len(n.ParentKeys))
		for i, pk := range n.ParentKeys {
			km[n.ChildKeys[i]] = m[pk]
		}
		out = append(out, km)
	}
	return out
}

func join(n *plan.GlobalGraphFetchNode, parents, children []any) error {
	index := make(map[string][]any, len(children))
	for _, c := range children {
		m, ok := c.(map[string]any)
		if !ok {
			return &GraphFetchError{Property: n.Property, Reason: fmt.Sprintf("child object is a %T", c)}
		}
		if k, ok := joinKey(m, n.ChildKeys); ok {
			index[k] = append(index[k], c)
		}
	}
	for _, p := range parents {
		m, ok := p.(map[string]any)
		if !ok {
			return &GraphFetchError{Property: n.Property, Reason: fmt.Sprintf("parent object is a %T", p)}
		}
		var matches []any
		if k, ok := joinKey(m, n.ParentKeys); ok {
			matches = index[k]
		}
		if n.ToMany {
			existing, _ := m[n.Property].([]any)
			if existing == nil {
				existing = []any{}
			}
			m[n.Property] = append(existing, matches...)
			continue
		}
		switch len(matches) {
		case 0:
			if _, set := m[n.Property]; !set {
				m[n.Property] = nil
			}
		case 1:
			m[n.Property] = matches[0]
		default:
			return &GraphFetchError{Property: n.Property, Reason: fmt.Sprintf("%d objects matched a to-one property", len(matches))}
		}
	}
	return nil
}

// joinKey renders the values of keys of m. Numbers compare by value
// regardless of their Go type.
func joinKey(m map[string]any, keys []string) (string, bool) {
	var b strings.Builder
	for i, k := range keys {
		v := m[k]
		if v == nil {
			return "", false
		}
		if i > 0 {
			b.WriteByte(',')
		}
		switch x := v.(type) {
		case string:
			b.WriteString(strconv.Quote(x))
		default:
			if f, ok := number(v); ok {
				b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
			} else {
				fmt.Fprintf(&b, "%v", v)
			}
		}
	}
	return b.String(), true
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// asStream returns r as a streaming result. Constants over a list or a Seq
// are streamed with r as upstream.
func asStream(r result.Result) (*result.StreamingObject, error) {
	switch v := r.(type) {
	case *result.StreamingObject:
		return v, nil
	case *result.Constant:
		b := result.Builder{Type: result.BuilderObject}
		switch x := v.Value.(type) {
		case result.Seq:
			return result.NewStreamingObject(x, b, r), nil
		case []any:
			return result.NewStreamingObject(result.FromValues(x, b).Objects(), b, r), nil
		case nil:
			return result.FromValues(nil, b), nil
		}
	}
	return nil, &GraphFetchError{Property: "root", Reason: fmt.Sprintf("%T is not a stream of objects", r)}
}

// estimateSize approximates the memory held by a materialized object.
func estimateSize(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(x)) + 16
	case bool:
		return 1
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return 8
	case json.Number:
		return int64(len(x)) + 16
	case time.Time:
		return 24
	case []any:
		size := int64(24)
		for _, e := range x {
			size += estimateSize(e)
		}
		return size
	case map[string]any:
		size := int64(48)
		for k, e := range x {
			size += int64(len(k)) + 16 + estimateSize(e)
		}
		return size
	}
	return 16
}
