package tool

import (
	"context"
	"strings"
)

// StaticSource is a DocumentSource over an in-memory document set.
// Matching is case-insensitive substring search over title and content,
// enough for small attachment sets and for tests.
type StaticSource struct {
	docs []Document
}

// NewStaticSource creates a source over the given documents.
func NewStaticSource(docs []Document) *StaticSource {
	cloned := make([]Document, len(docs))
	copy(cloned, docs)
	return &StaticSource{docs: cloned}
}

func (s *StaticSource) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	terms := strings.Fields(strings.ToLower(query))

	var out []Document
	for _, doc := range s.docs {
		if len(out) >= limit {
			break
		}
		haystack := strings.ToLower(doc.Title + "\n" + doc.Content)
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				out = append(out, doc)
				break
			}
		}
	}
	return out, nil
}

var _ DocumentSource = (*StaticSource)(nil)
