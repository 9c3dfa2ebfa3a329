package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hanpama/legend/internal/graphfetch"
)

// DecodeFunc decodes the JSON of one node kind. Child nodes are decoded with
// d.Node.
type DecodeFunc func(d *Decoder, raw json.RawMessage) (Node, error)

// Decoder decodes execution plans. Node kinds are selected by the _type tag.
type Decoder struct {
	kinds map[string]DecodeFunc
}

// NewDecoder returns a decoder knowing every built-in node kind.
func NewDecoder() *Decoder {
	d := &Decoder{kinds: make(map[string]DecodeFunc)}
	d.Register(TypeConstant, decodeConstant)
	d.Register(TypeError, decodeError)
	d.Register(TypeSequence, decodeSequence)
	d.Register(TypeMultiResultSequence, decodeMultiResultSequence)
	d.Register(TypeAllocation, decodeAllocation)
	d.Register(TypeConditional, decodeConditional)
	d.Register(TypeParameterValidation, decodeParameterValidation)
	d.Register(TypePlatform, decodePlatform)
	d.Register(TypeGraphFetch, decodeGraphFetch)
	d.Register(TypeLocalGraphFetch, decodeLocalGraphFetch)
	d.Register(TypeGlobalGraphFetch, decodeGlobalGraphFetch)
	d.Register(TypeRelational, decodeRelational)
	d.Register(TypeInMemory, decodeInMemory)
	d.Register(TypeService, decodeService)
	return d
}

// Register adds or replaces the decoder for a node kind.
func (d *Decoder) Register(nodeType string, fn DecodeFunc) {
	d.kinds[nodeType] = fn
}

// Node decodes a single node. A JSON null decodes to a nil node.
func (d *Decoder) Node(raw json.RawMessage) (Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var tag struct {
		Type string `json:"_type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}
	fn, ok := d.kinds[tag.Type]
	if !ok {
		return nil, fmt.Errorf("unknown execution node type %q", tag.Type)
	}
	n, err := fn(d, raw)
	if err != nil {
		return nil, fmt.Errorf("%s node: %w", tag.Type, err)
	}
	return n, nil
}

// Nodes decodes a list of nodes.
func (d *Decoder) Nodes(raws []json.RawMessage) ([]Node, error) {
	out := make([]Node, 0, len(raws))
	for _, raw := range raws {
		n, err := d.Node(raw)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// Plan decodes a SingleExecutionPlan document.
func (d *Decoder) Plan(r io.Reader) (*SingleExecutionPlan, error) {
	var w struct {
		Root     json.RawMessage `json:"rootExecutionNode"`
		Platform *struct {
			Classes []json.RawMessage `json:"classes"`
		} `json:"globalImplementationSupport"`
		TemplateFunctions []string `json:"templateFunctions"`
	}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(w.Root) == 0 {
		return nil, fmt.Errorf("decode plan: missing rootExecutionNode")
	}
	root, err := d.Node(w.Root)
	if err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	p := &SingleExecutionPlan{Root: root, TemplateFunctions: w.TemplateFunctions}
	if w.Platform != nil {
		for _, raw := range w.Platform.Classes {
			var impl PlatformImplementation
			if err := json.Unmarshal(raw, &impl); err != nil {
				return nil, fmt.Errorf("decode plan: global implementation: %w", err)
			}
			p.Units = append(p.Units, impl.Units...)
		}
	}
	return p, nil
}

// DecodePlan decodes a plan from bytes with the built-in node kinds.
func DecodePlan(data []byte) (*SingleExecutionPlan, error) {
	return NewDecoder().Plan(bytes.NewReader(data))
}

func unmarshalNumbers(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// ---------------- node kinds ----------------

func decodeConstant(_ *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Values json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	vs, err := DecodeValue(w.Values)
	if err != nil {
		return nil, err
	}
	return &ConstantNode{Values: vs}, nil
}

func decodeError(d *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Message string            `json:"message"`
		Nodes   []json.RawMessage `json:"executionNodes"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	children, err := d.Nodes(w.Nodes)
	if err != nil {
		return nil, err
	}
	n := &ErrorNode{Message: w.Message}
	if len(children) > 0 {
		n.Child = children[0]
	}
	return n, nil
}

func decodeChildren(d *Decoder, raw json.RawMessage) ([]Node, error) {
	var w struct {
		Nodes []json.RawMessage `json:"executionNodes"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return d.Nodes(w.Nodes)
}

func decodeSequence(d *Decoder, raw json.RawMessage) (Node, error) {
	children, err := decodeChildren(d, raw)
	if err != nil {
		return nil, err
	}
	return &SequenceNode{Children: children}, nil
}

func decodeMultiResultSequence(d *Decoder, raw json.RawMessage) (Node, error) {
	children, err := decodeChildren(d, raw)
	if err != nil {
		return nil, err
	}
	return &MultiResultSequenceNode{Children: children}, nil
}

func decodeAllocation(d *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		VarName string            `json:"varName"`
		Nodes   []json.RawMessage `json:"executionNodes"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.VarName == "" {
		return nil, fmt.Errorf("missing varName")
	}
	children, err := d.Nodes(w.Nodes)
	if err != nil {
		return nil, err
	}
	if len(children) != 1 {
		return nil, fmt.Errorf("allocation %q needs exactly one child, got %d", w.VarName, len(children))
	}
	return &AllocationNode{VarName: w.VarName, Child: children[0]}, nil
}

func decodeConditional(d *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Expression string          `json:"freeMarkerBooleanExpression"`
		TrueBlock  json.RawMessage `json:"trueBlock"`
		FalseBlock json.RawMessage `json:"falseBlock"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	t, err := d.Node(w.TrueBlock)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("missing trueBlock")
	}
	f, err := d.Node(w.FalseBlock)
	if err != nil {
		return nil, err
	}
	return &ConditionalNode{Expression: w.Expression, TrueBlock: t, FalseBlock: f}, nil
}

func decodeParameterValidation(_ *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Parameters []Variable               `json:"functionParameters"`
		Contexts   []EnumValidationContext `json:"parameterValidationContext"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &FunctionParametersValidationNode{Parameters: w.Parameters, Enums: w.Contexts}, nil
}

func decodePlatform(d *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Implementation *PlatformImplementation `json:"implementation"`
		Nodes          []json.RawMessage       `json:"executionNodes"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Implementation == nil || w.Implementation.ClassName == "" {
		return nil, fmt.Errorf("missing implementation class")
	}
	children, err := d.Nodes(w.Nodes)
	if err != nil {
		return nil, err
	}
	n := &PlatformNode{Implementation: w.Implementation}
	if len(children) > 0 {
		n.Child = children[0]
	}
	return n, nil
}

func decodeGraphFetch(d *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Root            json.RawMessage         `json:"rootExecutionNode"`
		Local           json.RawMessage         `json:"localGraphFetchExecutionNode"`
		Children        []json.RawMessage       `json:"children"`
		BatchSize       int                     `json:"batchSize"`
		Implementation  *PlatformImplementation `json:"implementation"`
		Tree            *graphfetch.Tree        `json:"graphFetchTree"`
		ResultSizeRange *Multiplicity           `json:"resultSizeRange"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	root, err := d.Node(w.Root)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("missing rootExecutionNode")
	}
	n := &GraphFetchNode{
		Root:            root,
		BatchSize:       w.BatchSize,
		Implementation:  w.Implementation,
		Tree:            w.Tree,
		ResultSizeRange: w.ResultSizeRange,
	}
	if n.Local, err = d.local(w.Local); err != nil {
		return nil, err
	}
	if n.Children, err = d.globals(w.Children); err != nil {
		return nil, err
	}
	if n.Local == nil && n.Implementation == nil {
		return nil, fmt.Errorf("graph fetch needs a local node or an implementation")
	}
	return n, nil
}

func decodeLocalGraphFetch(_ *Decoder, raw json.RawMessage) (Node, error) {
	var n LocalGraphFetchNode
	var w struct {
		NodeIndex int              `json:"nodeIndex"`
		Tree      *graphfetch.Tree `json:"graphFetchTree"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	n.NodeIndex, n.Tree = w.NodeIndex, w.Tree
	return &n, nil
}

func decodeGlobalGraphFetch(d *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		ParentIndex     int               `json:"parentIndex"`
		Property        string            `json:"property"`
		ToMany          bool              `json:"toMany"`
		ParentKeys      []string          `json:"parentKeys"`
		ChildKeys       []string          `json:"childKeys"`
		ParentsVariable string            `json:"parentsVariable"`
		Source          json.RawMessage   `json:"sourceExecutionNode"`
		Local           json.RawMessage   `json:"localGraphFetchExecutionNode"`
		Children        []json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Property == "" {
		return nil, fmt.Errorf("missing property")
	}
	if len(w.ParentKeys) == 0 || len(w.ParentKeys) != len(w.ChildKeys) {
		return nil, fmt.Errorf("property %q: parentKeys and childKeys must be non-empty and of equal length", w.Property)
	}
	src, err := d.Node(w.Source)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("property %q: missing sourceExecutionNode", w.Property)
	}
	n := &GlobalGraphFetchNode{
		ParentIndex:     w.ParentIndex,
		Property:        w.Property,
		ToMany:          w.ToMany,
		ParentKeys:      w.ParentKeys,
		ChildKeys:       w.ChildKeys,
		ParentsVariable: w.ParentsVariable,
		Source:          src,
	}
	if n.Local, err = d.local(w.Local); err != nil {
		return nil, err
	}
	if n.Local == nil {
		return nil, fmt.Errorf("property %q: missing localGraphFetchExecutionNode", w.Property)
	}
	if n.Children, err = d.globals(w.Children); err != nil {
		return nil, err
	}
	return n, nil
}

func (d *Decoder) local(raw json.RawMessage) (*LocalGraphFetchNode, error) {
	n, err := d.Node(raw)
	if err != nil || n == nil {
		return nil, err
	}
	local, ok := n.(*LocalGraphFetchNode)
	if !ok {
		return nil, fmt.Errorf("expected %s node, got %s", TypeLocalGraphFetch, n.NodeType())
	}
	return local, nil
}

func (d *Decoder) globals(raws []json.RawMessage) ([]*GlobalGraphFetchNode, error) {
	nodes, err := d.Nodes(raws)
	if err != nil {
		return nil, err
	}
	out := make([]*GlobalGraphFetchNode, 0, len(nodes))
	for _, n := range nodes {
		g, ok := n.(*GlobalGraphFetchNode)
		if !ok {
			return nil, fmt.Errorf("expected %s child, got %s", TypeGlobalGraphFetch, n.NodeType())
		}
		out = append(out, g)
	}
	return out, nil
}

func decodeRelational(_ *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Connection string   `json:"connection"`
		SQL        string   `json:"sqlQuery"`
		Columns    []string `json:"resultColumns"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.SQL == "" {
		return nil, fmt.Errorf("missing sqlQuery")
	}
	return &RelationalNode{Connection: w.Connection, SQL: w.SQL, Columns: w.Columns}, nil
}

func decodeInMemory(_ *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Dataset string          `json:"dataset"`
		Values  json.RawMessage `json:"values"`
		Class   string          `json:"class"`
		Filter  string          `json:"filter"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	n := &InMemoryNode{Dataset: w.Dataset, Class: w.Class, Filter: w.Filter}
	if len(w.Values) > 0 {
		v, err := DecodeJSON(w.Values)
		if err != nil {
			return nil, err
		}
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("values must be a list")
		}
		n.Values = list
	}
	if n.Dataset == "" && n.Values == nil {
		return nil, fmt.Errorf("needs a dataset or inline values")
	}
	return n, nil
}

func decodeService(_ *Decoder, raw json.RawMessage) (Node, error) {
	var w struct {
		Service    string   `json:"service"`
		Method     string   `json:"method"`
		Parameters []string `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Service == "" || w.Method == "" {
		return nil, fmt.Errorf("service and method are required")
	}
	return &ServiceNode{Service: w.Service, Method: w.Method, Parameters: w.Parameters}, nil
}
