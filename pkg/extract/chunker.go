package extract

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunker splits text into pieces that fit a token budget while keeping
// paragraphs intact where possible. Only a paragraph that alone exceeds the
// budget is split mid-paragraph.
type Chunker struct {
	maxTokens int
	encoding  *tiktoken.Tiktoken
}

// NewChunker creates a chunker with the given token budget. Token counts use
// the cl100k_base encoding; if the encoding cannot be loaded (offline hosts)
// a whitespace approximation is used instead.
func NewChunker(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		encoding = nil
	}
	return &Chunker{maxTokens: maxTokens, encoding: encoding}
}

// Split breaks text into chunks of at most the token budget.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.count(text) <= c.maxTokens {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range splitParagraphs(text) {
		tokens := c.count(para)

		if tokens > c.maxTokens {
			flush()
			chunks = append(chunks, c.hardSplit(para)...)
			continue
		}
		if currentTokens+tokens > c.maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += tokens
	}
	flush()
	return chunks
}

// Count returns the token count of text under the chunker's encoding.
func (c *Chunker) Count(text string) int { return c.count(text) }

func (c *Chunker) count(text string) int {
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

// hardSplit breaks one oversized paragraph on token (or word) boundaries.
func (c *Chunker) hardSplit(para string) []string {
	if c.encoding != nil {
		tokens := c.encoding.Encode(para, nil, nil)
		var out []string
		for start := 0; start < len(tokens); start += c.maxTokens {
			end := start + c.maxTokens
			if end > len(tokens) {
				end = len(tokens)
			}
			piece := strings.TrimSpace(c.encoding.Decode(tokens[start:end]))
			if piece != "" {
				out = append(out, piece)
			}
		}
		return out
	}

	words := strings.Fields(para)
	var out []string
	for start := 0; start < len(words); start += c.maxTokens {
		end := start + c.maxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
