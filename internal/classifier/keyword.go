// Package classifier labels admitted resources with a type, a difficulty
// and a topic set.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
)

// Known vocabularies.
var (
	ResourceTypes    = []string{"paper", "lecture", "exercise", "documentation", "tutorial"}
	DifficultyLevels = []string{"beginner", "intermediate", "advanced", "expert"}
)

// BaseTopics are attached when nothing better is known.
var BaseTopics = []string{"machine learning", "interatomic potentials"}

// Keyword classifies from the URL and title alone. It is deterministic
// and never fails.
type Keyword struct{}

var _ ports.Classifier = Keyword{}

// Classify implements ports.Classifier.
func (Keyword) Classify(_ context.Context, title, _ string, url string) (domain.Classification, error) {
	return heuristic(title, url), nil
}

func heuristic(title, url string) domain.Classification {
	lowerTitle := strings.ToLower(title)
	lowerURL := strings.ToLower(url)

	var resourceType string
	switch {
	case strings.Contains(lowerURL, "arxiv.org") || strings.Contains(lowerTitle, "paper"):
		resourceType = "paper"
	case strings.Contains(lowerURL, "youtube.com") || strings.Contains(lowerTitle, "lecture"):
		resourceType = "lecture"
	case strings.Contains(lowerURL, "github.com") &&
		(strings.Contains(lowerTitle, "tutorial") || strings.Contains(lowerTitle, "example")):
		resourceType = "exercise"
	case strings.Contains(lowerURL, "docs") || strings.Contains(lowerTitle, "documentation"):
		resourceType = "documentation"
	default:
		resourceType = "tutorial"
	}

	difficulty := "intermediate"
	switch {
	case containsAny(lowerTitle, "introduction", "getting started", "basics"):
		difficulty = "beginner"
	case containsAny(lowerTitle, "advanced", "expert", "research"):
		difficulty = "advanced"
	}

	return domain.Classification{
		ResourceType:    resourceType,
		DifficultyLevel: difficulty,
		Topics:          append([]string(nil), BaseTopics...),
	}
}

// Validate checks a classification against the known vocabularies and
// normalises its casing and topic set.
func Validate(c domain.Classification) (domain.Classification, error) {
	c.ResourceType = strings.ToLower(strings.TrimSpace(c.ResourceType))
	c.DifficultyLevel = strings.ToLower(strings.TrimSpace(c.DifficultyLevel))

	if !contains(ResourceTypes, c.ResourceType) {
		return domain.Classification{}, fmt.Errorf("unknown resource type %q", c.ResourceType)
	}
	if !contains(DifficultyLevels, c.DifficultyLevel) {
		return domain.Classification{}, fmt.Errorf("unknown difficulty level %q", c.DifficultyLevel)
	}

	seen := map[string]struct{}{}
	topics := make([]string, 0, len(c.Topics))
	for _, topic := range c.Topics {
		topic = strings.TrimSpace(topic)
		key := strings.ToLower(topic)
		if topic == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		topics = append(topics, topic)
	}
	c.Topics = topics
	return c, nil
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
