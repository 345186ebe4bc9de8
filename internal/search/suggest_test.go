package search

import (
	"testing"
)

func TestReduceSuggestionsNameOrder(t *testing.T) {
	groups := map[string][]Suggestion{
		"zeta":  {{Name: "zeta", Kind: SuggestTerm, Size: 5}},
		"alpha": {{Name: "alpha", Kind: SuggestTerm, Size: 5}},
		"mid":   {{Name: "mid", Kind: SuggestTerm, Size: 5}},
	}
	reduced, err := ReduceSuggestions(groups)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range reduced {
		names = append(names, s.Name)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestReduceCompletionOrdersAndTrims(t *testing.T) {
	groups := map[string][]Suggestion{
		"titles": {
			{Name: "titles", Kind: SuggestCompletion, Size: 3, Options: []SuggestOption{
				{Text: "banana", Score: 4, Shard: 0},
				{Text: "cherry", Score: 2, Shard: 0},
			}},
			{Name: "titles", Kind: SuggestCompletion, Size: 3, Options: []SuggestOption{
				{Text: "apple", Score: 4, Shard: 1},
				{Text: "date", Score: 9, Shard: 1},
				{Text: "elder", Score: 1, Shard: 1},
			}},
		},
	}
	reduced, err := ReduceSuggestions(groups)
	if err != nil {
		t.Fatal(err)
	}
	opts := reduced[0].Options
	if len(opts) != 3 {
		t.Fatalf("options = %d, want trimmed to 3", len(opts))
	}
	// date(9), then the score-4 tie resolves by shard: banana(shard 0)
	// before apple(shard 1).
	wantTexts := []string{"date", "banana", "apple"}
	for i, want := range wantTexts {
		if opts[i].Text != want {
			t.Fatalf("option %d = %q, want %q (all: %+v)", i, opts[i].Text, want, opts)
		}
	}
}

func TestReduceTermMergesByText(t *testing.T) {
	groups := map[string][]Suggestion{
		"spell": {
			{Name: "spell", Kind: SuggestTerm, Size: 5, Options: []SuggestOption{
				{Text: "golang", Freq: 3},
				{Text: "golub", Freq: 1},
			}},
			{Name: "spell", Kind: SuggestTerm, Size: 5, Options: []SuggestOption{
				{Text: "golang", Freq: 4},
			}},
		},
	}
	reduced, err := ReduceSuggestions(groups)
	if err != nil {
		t.Fatal(err)
	}
	opts := reduced[0].Options
	if len(opts) != 2 {
		t.Fatalf("options = %d, want 2", len(opts))
	}
	if opts[0].Text != "golang" || opts[0].Freq != 7 {
		t.Errorf("option 0 = %+v, want golang with freq 7", opts[0])
	}
}

func TestReduceSuggestionsUnknownKind(t *testing.T) {
	groups := map[string][]Suggestion{
		"odd": {{Name: "odd", Kind: SuggestionKind("phrase")}},
	}
	if _, err := ReduceSuggestions(groups); err == nil {
		t.Fatal("expected error for unregistered suggestion kind")
	}
}

func TestRegisterSuggestionReducer(t *testing.T) {
	kind := SuggestionKind("custom")
	RegisterSuggestionReducer(kind, func(group []Suggestion) Suggestion {
		return Suggestion{Name: group[0].Name, Kind: kind, Options: []SuggestOption{{Text: "fixed"}}}
	})
	t.Cleanup(func() { delete(suggestionReducers, kind) })

	reduced, err := ReduceSuggestions(map[string][]Suggestion{
		"c": {{Name: "c", Kind: kind}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(reduced) != 1 || reduced[0].Options[0].Text != "fixed" {
		t.Fatalf("reduced = %+v", reduced)
	}
}
