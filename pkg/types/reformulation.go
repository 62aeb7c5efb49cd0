package types

import "strings"

// Reformulation is the four-facet textual view of one piece of content or one
// query. A single embedding conflates topic, content, situation and metadata;
// four independent facets let retrieval match the right dimension.
type Reformulation struct {
	Topical  string `json:"topical"`  // What topic the content concerns
	Content  string `json:"content"`  // What was actually said
	Context  string `json:"context"`  // The surrounding situation
	Metadata string `json:"metadata"` // Structured metadata as text
}

// Facets returns the four facet texts in the same order as
// FacetEmbeddings.Vectors. Empty facets are returned as empty strings, never
// dropped, so callers can rely on a fixed shape.
func (r Reformulation) Facets() [4]string {
	return [4]string{r.Topical, r.Content, r.Context, r.Metadata}
}

// IsEmpty reports whether every facet is blank.
func (r Reformulation) IsEmpty() bool {
	for _, f := range r.Facets() {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
