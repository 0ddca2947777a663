package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NoContentSummary is returned without any generation call when the
// input text is empty or whitespace-only.
const NoContentSummary = "No content to summarize."

// defaultInstruction is used when the caller supplies no prompt.
const defaultInstruction = "Summarize the document into clear, concise bullet points with headings and actionable insights. Include key terms and definitions where relevant."

// Generator is one stateless prompt-in, text-out generation call.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Summarizer produces one bounded-length executive summary from
// arbitrarily long text via a chunk-and-combine strategy.
type Summarizer struct {
	Gen           Generator
	Logger        *zap.Logger
	MaxChunkChars int
}

// NewSummarizer creates a Summarizer. maxChunkChars bounds the size of
// each chunk sent to the generator.
func NewSummarizer(gen Generator, logger *zap.Logger, maxChunkChars int) *Summarizer {
	if maxChunkChars <= 0 {
		maxChunkChars = 8000
	}
	return &Summarizer{Gen: gen, Logger: logger, MaxChunkChars: maxChunkChars}
}

// splitChunks partitions text into contiguous slices of at most max
// characters. Concatenating the result reproduces the input exactly.
func splitChunks(text string, max int) []string {
	var chunks []string
	for i := 0; i < len(text); i += max {
		end := i + max
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
	}
	return chunks
}

// Summarize runs the pipeline: one generation call per chunk, strictly
// in order, then a final synthesis call combining the partial
// summaries. Chunk i+1 is not issued before chunk i's result arrived;
// the per-chunk prompts reference their position among all chunks.
// Any generation failure aborts the pipeline; no partial summary is
// ever returned.
func (s *Summarizer) Summarize(ctx context.Context, text, userPrompt string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return NoContentSummary, nil
	}

	instruction := strings.TrimSpace(userPrompt)
	if instruction == "" {
		instruction = defaultInstruction
	}

	chunks := splitChunks(text, s.MaxChunkChars)
	s.Logger.Info("Starting summarization",
		zap.Int("text_chars", len(text)),
		zap.Int("chunks", len(chunks)))

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt := fmt.Sprintf("%s\n\nChunk %d of %d (do not repeat previous content).\n\n---\n%s",
			instruction, i+1, len(chunks), chunk)
		out, err := s.Gen.Generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("%w: chunk %d of %d: %v", ErrGeneration, i+1, len(chunks), err)
		}
		partials = append(partials, out)
	}

	finalPrompt := fmt.Sprintf("Combine and refine the following partial summaries into a single, non-redundant executive summary with bullet points and section headers. Keep it under 400-600 words.\n\n%s\n\nReturn only the final summary.",
		strings.Join(partials, "\n\n"))
	final, err := s.Gen.Generate(ctx, finalPrompt)
	if err != nil {
		return "", fmt.Errorf("%w: synthesis: %v", ErrGeneration, err)
	}

	s.Logger.Info("Summarization completed", zap.Int("summary_chars", len(final)))
	return final, nil
}
