package embed

// Static768Dimensions matches the 768-dimensional learned models, so a
// collection created against one of those can fall back to the static
// embedder without re-creating the collection.
const Static768Dimensions = 768

// StaticEmbedder768 is the 768-dimensional static embedder: the same
// hashed-feature algorithm as StaticEmbedder, spread over a wider vector.
type StaticEmbedder768 struct {
	staticCore
}

var _ Embedder = (*StaticEmbedder768)(nil)

// NewStaticEmbedder768 creates a new 768-dimensional static embedder.
func NewStaticEmbedder768() *StaticEmbedder768 {
	return &StaticEmbedder768{staticCore{dims: Static768Dimensions, model: "static768"}}
}
