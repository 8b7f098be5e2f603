package ingestion

import "context"

// Classification is the enrichment classifier's output.
type Classification struct {
	KBID          string
	Authority     float64
	GlobalSummary string
	ShadowTags    []string
}

// DefaultClassification is used when the classifier call fails.
func DefaultClassification() Classification {
	return Classification{KBID: "default", Authority: 0.5}
}

// Classifier runs the enrichment LLM call. Kept as an interface so
// pkg/ingestion never imports pkg/agent.
type Classifier interface {
	Classify(ctx context.Context, filename, contentSnippet string) (Classification, error)
}

// classify calls classifier and falls back to DefaultClassification on any
// error.
func classify(ctx context.Context, classifier Classifier, filename, content string) Classification {
	if classifier == nil {
		return DefaultClassification()
	}
	snippet := content
	if len(snippet) > 1000 {
		snippet = snippet[:1000]
	}
	result, err := classifier.Classify(ctx, filename, snippet)
	if err != nil {
		return DefaultClassification()
	}
	if result.KBID == "" {
		result.KBID = "default"
	}
	return result
}
