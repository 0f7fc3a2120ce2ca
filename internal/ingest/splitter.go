package ingest

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenSplitter splits raw text into overlapping token-window chunks.
type TokenSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	tokenizer    *tiktoken.Tiktoken
}

// NewTokenSplitter creates a TokenSplitter over the cl100k_base encoding.
func NewTokenSplitter(chunkSize, chunkOverlap int) (*TokenSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TokenSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		tokenizer:    tke,
	}, nil
}

// Split cuts text into chunks of at most ChunkSize tokens, each overlapping
// the previous by ChunkOverlap tokens. Empty input yields no chunks.
func (s *TokenSplitter) Split(text string) []string {
	tokens := s.tokenizer.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil
	}

	step := s.ChunkSize - s.ChunkOverlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + s.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, s.tokenizer.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
