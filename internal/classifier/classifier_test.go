package classifier

import (
	"context"
	"errors"
	"testing"

	"CorpusCurator/internal/domain"
)

func TestKeywordClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title          string
		url            string
		wantType       string
		wantDifficulty string
	}{
		{"Equivariant message passing", "https://arxiv.org/abs/2101.00001", "paper", "intermediate"},
		{"A position paper on MLIPs", "https://example.org/post", "paper", "intermediate"},
		{"Lecture 3: DFT basics", "https://example.org/course", "lecture", "beginner"},
		{"MACE tutorial notebook", "https://github.com/acme/mace-examples", "exercise", "intermediate"},
		{"NequIP reference", "https://docs.example.org/nequip", "documentation", "intermediate"},
		{"Advanced training strategies", "https://blog.example.org/training", "tutorial", "advanced"},
		{"Getting started with force fields", "https://blog.example.org/ff", "tutorial", "beginner"},
	}

	for _, tt := range tests {
		got, err := Keyword{}.Classify(context.Background(), tt.title, "", tt.url)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.title, err)
		}
		if got.ResourceType != tt.wantType || got.DifficultyLevel != tt.wantDifficulty {
			t.Fatalf("%s: got (%s, %s), want (%s, %s)", tt.title, got.ResourceType, got.DifficultyLevel, tt.wantType, tt.wantDifficulty)
		}
		if len(got.Topics) != len(BaseTopics) {
			t.Fatalf("%s: expected base topics, got %v", tt.title, got.Topics)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	got, err := Validate(domain.Classification{
		ResourceType:    " Paper ",
		DifficultyLevel: "EXPERT",
		Topics:          []string{"MACE", "mace", " ", "force fields"},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ResourceType != "paper" || got.DifficultyLevel != "expert" {
		t.Fatalf("unexpected normalisation %+v", got)
	}
	if len(got.Topics) != 2 || got.Topics[0] != "MACE" || got.Topics[1] != "force fields" {
		t.Fatalf("unexpected topics %v", got.Topics)
	}

	if _, err := Validate(domain.Classification{ResourceType: "blog", DifficultyLevel: "beginner"}); err == nil {
		t.Fatal("expected unknown type to be rejected")
	}
	if _, err := Validate(domain.Classification{ResourceType: "paper", DifficultyLevel: "trivial"}); err == nil {
		t.Fatal("expected unknown difficulty to be rejected")
	}
}

type stubClassifier struct {
	result domain.Classification
	err    error
}

func (s stubClassifier) Classify(context.Context, string, string, string) (domain.Classification, error) {
	return s.result, s.err
}

func TestFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary := stubClassifier{result: domain.Classification{ResourceType: "lecture", DifficultyLevel: "advanced"}}
	got, err := WithFallback(primary, nil).Classify(ctx, "anything", "", "https://example.org")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.ResourceType != "lecture" || len(got.Topics) == 0 {
		t.Fatalf("expected primary result with base topics, got %+v", got)
	}

	cases := []struct {
		name    string
		primary stubClassifier
	}{
		{"error", stubClassifier{err: errors.New("rate limited")}},
		{"invalid", stubClassifier{result: domain.Classification{ResourceType: "podcast", DifficultyLevel: "beginner"}}},
	}
	for _, tc := range cases {
		got, err := WithFallback(tc.primary, nil).Classify(ctx, "Paper title", "", "https://example.org")
		if err != nil {
			t.Fatalf("%s: fallback must not fail, got %v", tc.name, err)
		}
		if got.ResourceType != "paper" {
			t.Fatalf("%s: expected heuristic result, got %+v", tc.name, got)
		}
	}

	got, _ = WithFallback(nil, nil).Classify(ctx, "Documentation", "", "https://x")
	if got.ResourceType != "documentation" {
		t.Fatalf("expected nil primary to use heuristics, got %+v", got)
	}
}
