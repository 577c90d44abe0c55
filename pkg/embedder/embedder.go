// Package embedder provides text embedding clients for vector representations.
//
// The Client interface is implemented by an OpenAI-compatible embedder and a
// caching wrapper that avoids re-embedding identical text.
package embedder

import "context"

// Client is the embedding boundary.
type Client interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle embeds a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector width this client produces.
	Dimensions() int
	Close() error
}
