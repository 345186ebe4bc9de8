// Package aggs implements the mergeable aggregation tree produced by shards
// during the query phase and combined during reduction. Each node is either a
// metric (sum, min, max, value_count) or a bucketed grouping (terms) whose
// buckets recursively contain sub-trees. Merge arithmetic is associative and
// commutative so reduction may batch partial trees in any order.
package aggs

import (
	"fmt"
	"sort"
)

// Kind identifies an aggregation node type.
type Kind string

const (
	KindSum        Kind = "sum"
	KindMin        Kind = "min"
	KindMax        Kind = "max"
	KindValueCount Kind = "value_count"
	KindTerms      Kind = "terms"
)

const defaultTermsSize = 10

// Spec declares one requested aggregation in a search request.
type Spec struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Field string `json:"field"`
	Size  int    `json:"size,omitempty"` // terms only
	Subs  []Spec `json:"subs,omitempty"` // terms only
}

// Aggregation is a single named node of the tree.
type Aggregation interface {
	Name() string
	// mergeInto combines other (same name, same concrete type) into the
	// receiver and returns the result.
	mergeInto(other Aggregation) (Aggregation, error)
	// Render produces the JSON-friendly representation of the node.
	Render() any
}

// Aggregations is an ordered collection of sibling aggregation nodes.
type Aggregations struct {
	list []Aggregation
}

// NewAggregations builds a tree from sibling nodes, in order.
func NewAggregations(nodes ...Aggregation) *Aggregations {
	return &Aggregations{list: nodes}
}

// Add appends a sibling node.
func (a *Aggregations) Add(node Aggregation) {
	a.list = append(a.list, node)
}

// List returns the sibling nodes in order.
func (a *Aggregations) List() []Aggregation {
	if a == nil {
		return nil
	}
	return a.list
}

// Get returns the named sibling, or nil.
func (a *Aggregations) Get(name string) Aggregation {
	if a == nil {
		return nil
	}
	for _, node := range a.list {
		if node.Name() == name {
			return node
		}
	}
	return nil
}

// Render produces a name-keyed map of all sibling nodes, suitable for JSON
// serialisation in the response envelope.
func (a *Aggregations) Render() map[string]any {
	if a == nil {
		return nil
	}
	out := make(map[string]any, len(a.list))
	for _, node := range a.list {
		out[node.Name()] = node.Render()
	}
	return out
}

// Merge combines partial trees into one. A nil pipelines argument marks an
// intermediate pass: nodes are merged but bucket lists stay unsorted and
// untrimmed so later merges remain order-insensitive. A non-nil (possibly
// empty) pipelines slice marks the final pass: bucket lists are sorted and
// trimmed to their declared sizes and sibling pipeline aggregations run over
// the completed tree. Pipelines must never run in an intermediate pass; they
// require the complete, stable bucket set.
func Merge(parts []*Aggregations, pipelines []PipelineSpec) (*Aggregations, error) {
	merged := &Aggregations{}
	for _, part := range parts {
		if part == nil {
			continue
		}
		for _, node := range part.list {
			existing := merged.Get(node.Name())
			if existing == nil {
				merged.list = append(merged.list, node)
				continue
			}
			combined, err := existing.mergeInto(node)
			if err != nil {
				return nil, fmt.Errorf("merging aggregation %q: %w", node.Name(), err)
			}
			merged.replace(combined)
		}
	}
	if pipelines == nil {
		return merged, nil
	}
	merged.finalize()
	for _, p := range pipelines {
		node, err := p.reduce(merged)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		merged.list = append(merged.list, node)
	}
	return merged, nil
}

func (a *Aggregations) replace(node Aggregation) {
	for i, existing := range a.list {
		if existing.Name() == node.Name() {
			a.list[i] = node
			return
		}
	}
}

// finalize sorts and trims every terms node recursively.
func (a *Aggregations) finalize() {
	if a == nil {
		return
	}
	for _, node := range a.list {
		if terms, ok := node.(*Terms); ok {
			terms.finalize()
		}
	}
}

// ---------------------------------------------------------------------------
// Metric nodes
// ---------------------------------------------------------------------------

// Sum is a summed float metric.
type Sum struct {
	AggName string  `json:"name"`
	Value   float64 `json:"value"`
}

func NewSum(name string, value float64) *Sum { return &Sum{AggName: name, Value: value} }

func (s *Sum) Name() string { return s.AggName }

func (s *Sum) mergeInto(other Aggregation) (Aggregation, error) {
	o, ok := other.(*Sum)
	if !ok {
		return nil, typeMismatch(s, other)
	}
	return &Sum{AggName: s.AggName, Value: s.Value + o.Value}, nil
}

func (s *Sum) Render() any { return map[string]any{"value": s.Value} }

// ValueCount counts values seen across shards.
type ValueCount struct {
	AggName string `json:"name"`
	Value   int64  `json:"value"`
}

func NewValueCount(name string, value int64) *ValueCount {
	return &ValueCount{AggName: name, Value: value}
}

func (c *ValueCount) Name() string { return c.AggName }

func (c *ValueCount) mergeInto(other Aggregation) (Aggregation, error) {
	o, ok := other.(*ValueCount)
	if !ok {
		return nil, typeMismatch(c, other)
	}
	return &ValueCount{AggName: c.AggName, Value: c.Value + o.Value}, nil
}

func (c *ValueCount) Render() any { return map[string]any{"value": c.Value} }

// Min tracks the smallest value seen. Present is false when the producing
// shard matched no values at all, so an absent side never poisons the merge.
type Min struct {
	AggName string  `json:"name"`
	Value   float64 `json:"value"`
	Present bool    `json:"present"`
}

func NewMin(name string, value float64) *Min {
	return &Min{AggName: name, Value: value, Present: true}
}

func (m *Min) Name() string { return m.AggName }

func (m *Min) mergeInto(other Aggregation) (Aggregation, error) {
	o, ok := other.(*Min)
	if !ok {
		return nil, typeMismatch(m, other)
	}
	switch {
	case !m.Present:
		return o, nil
	case !o.Present:
		return m, nil
	case o.Value < m.Value:
		return o, nil
	default:
		return m, nil
	}
}

func (m *Min) Render() any {
	if !m.Present {
		return map[string]any{"value": nil}
	}
	return map[string]any{"value": m.Value}
}

// Max tracks the largest value seen.
type Max struct {
	AggName string  `json:"name"`
	Value   float64 `json:"value"`
	Present bool    `json:"present"`
}

func NewMax(name string, value float64) *Max {
	return &Max{AggName: name, Value: value, Present: true}
}

func (m *Max) Name() string { return m.AggName }

func (m *Max) mergeInto(other Aggregation) (Aggregation, error) {
	o, ok := other.(*Max)
	if !ok {
		return nil, typeMismatch(m, other)
	}
	switch {
	case !m.Present:
		return o, nil
	case !o.Present:
		return m, nil
	case o.Value > m.Value:
		return o, nil
	default:
		return m, nil
	}
}

func (m *Max) Render() any {
	if !m.Present {
		return map[string]any{"value": nil}
	}
	return map[string]any{"value": m.Value}
}

// ---------------------------------------------------------------------------
// Bucketed nodes
// ---------------------------------------------------------------------------

// Bucket is one distinct key of a terms aggregation with its recursive
// sub-tree.
type Bucket struct {
	Key      string        `json:"key"`
	DocCount int64         `json:"doc_count"`
	Sub      *Aggregations `json:"sub,omitempty"`
}

// Terms groups documents by the distinct values of a field. Buckets are keyed
// by content equality; merge unions buckets and sums their counts. Sorting
// and size-trimming happen only in the final reduce pass so intermediate
// merges stay order-insensitive.
type Terms struct {
	AggName string   `json:"name"`
	Size    int      `json:"size"`
	Buckets []Bucket `json:"buckets"`
}

func NewTerms(name string, size int, buckets []Bucket) *Terms {
	if size <= 0 {
		size = defaultTermsSize
	}
	return &Terms{AggName: name, Size: size, Buckets: buckets}
}

func (t *Terms) Name() string { return t.AggName }

func (t *Terms) mergeInto(other Aggregation) (Aggregation, error) {
	o, ok := other.(*Terms)
	if !ok {
		return nil, typeMismatch(t, other)
	}
	merged := &Terms{AggName: t.AggName, Size: t.Size}
	index := make(map[string]int)
	for _, b := range t.Buckets {
		index[b.Key] = len(merged.Buckets)
		merged.Buckets = append(merged.Buckets, b)
	}
	for _, b := range o.Buckets {
		i, seen := index[b.Key]
		if !seen {
			index[b.Key] = len(merged.Buckets)
			merged.Buckets = append(merged.Buckets, b)
			continue
		}
		target := &merged.Buckets[i]
		target.DocCount += b.DocCount
		if b.Sub != nil || target.Sub != nil {
			sub, err := Merge([]*Aggregations{target.Sub, b.Sub}, nil)
			if err != nil {
				return nil, err
			}
			target.Sub = sub
		}
	}
	return merged, nil
}

func (t *Terms) finalize() {
	sort.SliceStable(t.Buckets, func(i, j int) bool {
		if t.Buckets[i].DocCount != t.Buckets[j].DocCount {
			return t.Buckets[i].DocCount > t.Buckets[j].DocCount
		}
		return t.Buckets[i].Key < t.Buckets[j].Key
	})
	if len(t.Buckets) > t.Size {
		t.Buckets = t.Buckets[:t.Size]
	}
	for i := range t.Buckets {
		t.Buckets[i].Sub.finalize()
	}
}

func (t *Terms) Render() any {
	buckets := make([]map[string]any, 0, len(t.Buckets))
	for _, b := range t.Buckets {
		entry := map[string]any{
			"key":       b.Key,
			"doc_count": b.DocCount,
		}
		for name, sub := range b.Sub.Render() {
			entry[name] = sub
		}
		buckets = append(buckets, entry)
	}
	return map[string]any{"buckets": buckets}
}

func typeMismatch(a Aggregation, b Aggregation) error {
	return fmt.Errorf("cannot merge %T into %T under name %q", b, a, a.Name())
}
