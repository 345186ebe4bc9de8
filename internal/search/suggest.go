package search

import (
	"fmt"
	"sort"
)

// SuggestionKind identifies a suggestion type. Completion suggestions carry
// backing documents that go through the same fetch-and-merge treatment as
// regular hits; other kinds reduce purely on their option payloads.
type SuggestionKind string

const (
	SuggestCompletion SuggestionKind = "completion"
	SuggestTerm       SuggestionKind = "term"
)

// Suggestion is one named suggestion result, per shard before reduction and
// global after.
type Suggestion struct {
	Name    string          `json:"name"`
	Kind    SuggestionKind  `json:"kind"`
	Size    int             `json:"size"`
	Options []SuggestOption `json:"options"`
}

// SuggestOption is a single suggested candidate. For completion suggestions
// Doc is the shard-local ordinal of the backing document and Hit is spliced
// in during fetch assembly; for other kinds both stay unset.
type SuggestOption struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Freq  int64   `json:"freq,omitempty"`
	Doc   int     `json:"-"`
	Shard int     `json:"shard,omitempty"`
	Hit   *Hit    `json:"hit,omitempty"`
}

// SuggestionReducer combines same-named suggestion results from all shards
// into one. Per-type logic is pluggable; the reduction engine only groups by
// name and delegates.
type SuggestionReducer func(group []Suggestion) Suggestion

var suggestionReducers = map[SuggestionKind]SuggestionReducer{
	SuggestCompletion: reduceCompletion,
	SuggestTerm:       reduceTerm,
}

// RegisterSuggestionReducer installs a reducer for a suggestion kind,
// replacing any previous registration.
func RegisterSuggestionReducer(kind SuggestionKind, reducer SuggestionReducer) {
	suggestionReducers[kind] = reducer
}

// ReduceSuggestions reduces each named group across shards and returns the
// results in suggestion-name order. Every suggestion in a group must share
// one kind.
func ReduceSuggestions(groups map[string][]Suggestion) ([]Suggestion, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	reduced := make([]Suggestion, 0, len(names))
	for _, name := range names {
		group := groups[name]
		if len(group) == 0 {
			continue
		}
		kind := group[0].Kind
		reducer, ok := suggestionReducers[kind]
		if !ok {
			return nil, fmt.Errorf("no reducer registered for suggestion kind %q", kind)
		}
		reduced = append(reduced, reducer(group))
	}
	return reduced, nil
}

// reduceCompletion picks the global top options by score, breaking ties by
// shard index then text so the outcome is independent of arrival order.
func reduceCompletion(group []Suggestion) Suggestion {
	out := Suggestion{Name: group[0].Name, Kind: group[0].Kind, Size: group[0].Size}
	for _, s := range group {
		out.Options = append(out.Options, s.Options...)
	}
	sort.SliceStable(out.Options, func(i, j int) bool {
		a, b := out.Options[i], out.Options[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Shard != b.Shard {
			return a.Shard < b.Shard
		}
		return a.Text < b.Text
	})
	if out.Size > 0 && len(out.Options) > out.Size {
		out.Options = out.Options[:out.Size]
	}
	return out
}

// reduceTerm merges options by text, summing frequencies, and keeps the top
// options by frequency then score.
func reduceTerm(group []Suggestion) Suggestion {
	out := Suggestion{Name: group[0].Name, Kind: group[0].Kind, Size: group[0].Size}
	index := make(map[string]int)
	for _, s := range group {
		for _, opt := range s.Options {
			if i, seen := index[opt.Text]; seen {
				out.Options[i].Freq += opt.Freq
				if opt.Score > out.Options[i].Score {
					out.Options[i].Score = opt.Score
				}
				continue
			}
			index[opt.Text] = len(out.Options)
			out.Options = append(out.Options, opt)
		}
	}
	sort.SliceStable(out.Options, func(i, j int) bool {
		a, b := out.Options[i], out.Options[j]
		if a.Freq != b.Freq {
			return a.Freq > b.Freq
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Text < b.Text
	})
	if out.Size > 0 && len(out.Options) > out.Size {
		out.Options = out.Options[:out.Size]
	}
	return out
}
