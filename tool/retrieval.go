package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/youssefsiam38/assistantpg/types"
)

// Document is one searchable document.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DocumentSource serves retrieval queries. Implementations search the
// files attached to the assistant.
type DocumentSource interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

// Retrieval implements the retrieval built-in on a DocumentSource.
// Document content is authored as markdown; results are normalized to
// plain text before they reach the model context.
type Retrieval struct {
	source   DocumentSource
	limit    int
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewRetrieval creates the retrieval tool. Limit is the maximum number
// of results per query; below 1 it defaults to 5.
func NewRetrieval(source DocumentSource, limit int) *Retrieval {
	if limit < 1 {
		limit = 5
	}
	return &Retrieval{
		source:   source,
		limit:    limit,
		markdown: goldmark.New(),
		policy:   bluemonday.StrictPolicy(),
	}
}

func (r *Retrieval) Type() types.ToolType {
	return types.ToolTypeRetrieval
}

func (r *Retrieval) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	if call.Retrieval == nil {
		return "", fmt.Errorf("retrieval call %s has no query", call.ID)
	}

	docs, err := r.source.Search(ctx, call.Retrieval.Query, r.limit)
	if err != nil {
		return "", fmt.Errorf("document search failed: %w", err)
	}

	results := make([]Document, 0, len(docs))
	for _, doc := range docs {
		plain, err := r.normalize(doc.Content)
		if err != nil {
			return "", fmt.Errorf("failed to normalize document %s: %w", doc.ID, err)
		}
		doc.Content = plain
		results = append(results, doc)
	}

	payload, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return "", fmt.Errorf("failed to marshal retrieval results: %w", err)
	}
	return string(payload), nil
}

// normalize renders markdown and strips every tag, leaving plain text.
func (r *Retrieval) normalize(markdown string) (string, error) {
	var rendered bytes.Buffer
	if err := r.markdown.Convert([]byte(markdown), &rendered); err != nil {
		return "", err
	}
	plain := r.policy.SanitizeBytes(rendered.Bytes())
	text := html.UnescapeString(string(plain))

	// Collapse the blank lines block rendering leaves behind.
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n"), nil
}

var _ Tool = (*Retrieval)(nil)
