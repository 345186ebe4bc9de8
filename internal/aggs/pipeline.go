package aggs

import "fmt"

// PipelineKind identifies a sibling pipeline aggregation type.
type PipelineKind string

const (
	PipelineAvgBucket PipelineKind = "avg_bucket"
	PipelineMaxBucket PipelineKind = "max_bucket"
	PipelineSumBucket PipelineKind = "sum_bucket"
)

// PipelineSpec declares an aggregation computed from the already-reduced
// output of a sibling terms aggregation. Path names the sibling; the pipeline
// operates on its buckets' doc counts.
type PipelineSpec struct {
	Name string       `json:"name"`
	Kind PipelineKind `json:"kind"`
	Path string       `json:"path"`
}

// SimpleValue is the single-number output of a pipeline aggregation.
type SimpleValue struct {
	AggName string  `json:"name"`
	Value   float64 `json:"value"`
}

func (v *SimpleValue) Name() string { return v.AggName }

func (v *SimpleValue) mergeInto(other Aggregation) (Aggregation, error) {
	// Pipeline outputs exist only after the final reduce pass, so two of them
	// can never meet in a merge.
	return nil, fmt.Errorf("pipeline output %q cannot be merged", v.AggName)
}

func (v *SimpleValue) Render() any { return map[string]any{"value": v.Value} }

func (p PipelineSpec) reduce(siblings *Aggregations) (Aggregation, error) {
	sibling := siblings.Get(p.Path)
	if sibling == nil {
		return nil, fmt.Errorf("buckets path %q not found", p.Path)
	}
	terms, ok := sibling.(*Terms)
	if !ok {
		return nil, fmt.Errorf("buckets path %q is %T, want a terms aggregation", p.Path, sibling)
	}
	if len(terms.Buckets) == 0 {
		return &SimpleValue{AggName: p.Name}, nil
	}

	var value float64
	switch p.Kind {
	case PipelineAvgBucket:
		var sum int64
		for _, b := range terms.Buckets {
			sum += b.DocCount
		}
		value = float64(sum) / float64(len(terms.Buckets))
	case PipelineMaxBucket:
		max := terms.Buckets[0].DocCount
		for _, b := range terms.Buckets[1:] {
			if b.DocCount > max {
				max = b.DocCount
			}
		}
		value = float64(max)
	case PipelineSumBucket:
		var sum int64
		for _, b := range terms.Buckets {
			sum += b.DocCount
		}
		value = float64(sum)
	default:
		return nil, fmt.Errorf("unknown pipeline kind %q", p.Kind)
	}
	return &SimpleValue{AggName: p.Name, Value: value}, nil
}
