package normalize

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how normalized bodies are sliced for retrieval.
type ChunkConfig struct {
	MinTokens    int
	MaxTokens    int
	OverlapRatio float64
	MaxChunks    int
	MaxKeywords  int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MinTokens:    200,
		MaxTokens:    400,
		OverlapRatio: 0.12,
		MaxChunks:    64,
		MaxKeywords:  8,
	}
}

// ApproxTokens estimates the token count of a text. Embedding providers
// tokenize at roughly 4/3 tokens per whitespace-separated word for
// English-ish prose, which is close enough to enforce slice budgets.
func ApproxTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return (words*4 + 2) / 3
}

// ChunkBody splits a normalized body into retrieval-sized chunks with
// overlap, preserving paragraph boundaries where possible. Markdown-style
// headings become the section label of the chunks that follow them.
// Ordering is contiguous from 0.
func ChunkBody(body string, cfg ChunkConfig) []ChunkDraft {
	clean := strings.TrimSpace(body)
	if clean == "" {
		return nil
	}
	if cfg.MaxTokens <= 0 {
		cfg = DefaultChunkConfig()
	}

	paragraphs := splitParagraphs(clean)

	var chunks []ChunkDraft
	var buf []string
	bufTokens := 0
	section := ""
	bufSection := ""

	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n\n")
		chunks = append(chunks, ChunkDraft{
			ChunkIndex:   len(chunks),
			Text:         text,
			TokenCount:   ApproxTokens(text),
			SectionLabel: bufSection,
			Keywords:     ExtractKeywords(text, cfg.MaxKeywords),
		})
		// Carry a tail of the finished chunk into the next one so
		// neighboring chunks share context.
		overlap := overlapTail(text, int(float64(cfg.MaxTokens)*cfg.OverlapRatio))
		buf = buf[:0]
		bufTokens = 0
		if overlap != "" {
			buf = append(buf, overlap)
			bufTokens = ApproxTokens(overlap)
		}
		bufSection = section
	}

	for _, para := range paragraphs {
		if label, ok := headingLabel(para); ok {
			section = label
			continue
		}

		paraTokens := ApproxTokens(para)
		if bufTokens+paraTokens > cfg.MaxTokens && bufTokens >= cfg.MinTokens {
			flush()
		}

		// A single paragraph larger than the budget is split on word
		// boundaries rather than dropped.
		if paraTokens > cfg.MaxTokens {
			for _, piece := range splitOversized(para, cfg.MaxTokens) {
				if bufTokens+ApproxTokens(piece) > cfg.MaxTokens && bufTokens > 0 {
					flush()
				}
				buf = append(buf, piece)
				bufTokens += ApproxTokens(piece)
			}
			continue
		}

		if len(buf) == 0 {
			bufSection = section
		}
		buf = append(buf, para)
		bufTokens += paraTokens

		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			break
		}
	}
	flush()

	if cfg.MaxChunks > 0 && len(chunks) > cfg.MaxChunks {
		chunks = chunks[:cfg.MaxChunks]
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func headingLabel(para string) (string, bool) {
	if !strings.HasPrefix(para, "#") || strings.Contains(para, "\n") {
		return "", false
	}
	label := strings.TrimSpace(strings.TrimLeft(para, "#"))
	if label == "" {
		return "", false
	}
	return label, true
}

func overlapTail(text string, tokens int) string {
	if tokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	keep := tokens * 3 / 4
	if keep <= 0 || keep >= len(words) {
		return ""
	}
	return strings.Join(words[len(words)-keep:], " ")
}

func splitOversized(para string, maxTokens int) []string {
	words := strings.Fields(para)
	wordsPerPiece := maxTokens * 3 / 4
	if wordsPerPiece <= 0 {
		wordsPerPiece = 1
	}
	var pieces []string
	for start := 0; start < len(words); start += wordsPerPiece {
		end := start + wordsPerPiece
		if end > len(words) {
			end = len(words)
		}
		pieces = append(pieces, strings.Join(words[start:end], " "))
	}
	return pieces
}

// stopwords excluded from keyword extraction.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"from": {}, "have": {}, "has": {}, "was": {}, "were": {}, "are": {},
	"not": {}, "but": {}, "you": {}, "all": {}, "its": {}, "can": {},
	"will": {}, "been": {}, "into": {}, "when": {}, "then": {}, "than": {},
	"they": {}, "their": {}, "there": {}, "what": {}, "which": {}, "while": {},
	"would": {}, "should": {}, "could": {}, "about": {}, "after": {}, "before": {},
}

// ExtractKeywords returns the most frequent non-stopword terms of a chunk,
// used by the lexical prefilter at retrieval time.
func ExtractKeywords(text string, max int) []string {
	if max <= 0 {
		return nil
	}
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	// Stable selection: frequency descending, first appearance as the
	// tie-break, so the same text always yields the same keywords.
	best := make([]string, 0, max)
	for len(best) < max {
		top := ""
		topCount := 0
		for _, w := range order {
			if counts[w] > topCount {
				top = w
				topCount = counts[w]
			}
		}
		if top == "" {
			break
		}
		best = append(best, top)
		counts[top] = 0
	}
	return best
}
