package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Chunk is one passage of the advisory knowledge base.
type Chunk struct {
	Book    string `json:"book"`
	Content string `json:"content"`
}

// Result is a scored chunk returned by Search.
type Result struct {
	Chunk
	Score int `json:"score"`
}

// Index is a keyword-overlap lookup over the loaded chunks. Deliberately
// naive: substring counting, no stemming or ranking model.
type Index struct {
	chunks []Chunk
}

var keywordStrip = regexp.MustCompile(`[^\w가-힣\s]`)

func New(chunks []Chunk) *Index {
	return &Index{chunks: chunks}
}

// Load reads the chunk file. A missing file yields an empty, disabled index
// rather than an error so the relay runs without a knowledge base.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	return &Index{chunks: chunks}, nil
}

func (ix *Index) Enabled() bool {
	return ix != nil && len(ix.chunks) > 0
}

// Search scores every chunk by keyword overlap with the query: two points per
// content occurrence, five bonus points when the keyword names the source
// book. Only positive scores are returned, best first.
func (ix *Index) Search(query string, topK int) []Result {
	if !ix.Enabled() || topK <= 0 {
		return nil
	}

	cleaned := keywordStrip.ReplaceAllString(strings.ToLower(query), "")
	var keywords []string
	for _, w := range strings.Fields(cleaned) {
		if len([]rune(w)) >= 2 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return nil
	}

	scored := make([]Result, 0, len(ix.chunks))
	for _, chunk := range ix.chunks {
		content := strings.ToLower(chunk.Content)
		book := strings.ToLower(chunk.Book)
		score := 0
		for _, kw := range keywords {
			score += 2 * strings.Count(content, kw)
			if strings.Contains(book, kw) {
				score += 5
			}
		}
		if score > 0 {
			scored = append(scored, Result{Chunk: chunk, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// FormatContext renders search results as numbered, source-attributed
// passages for prompt injection. Long passages are clipped.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, 0, len(results))
	for i, r := range results {
		content := r.Content
		if runes := []rune(content); len(runes) > 800 {
			content = string(runes[:800]) + "..."
		}
		parts = append(parts, fmt.Sprintf("[참고자료 %d] 출처: %s\n%s", i+1, r.Book, content))
	}
	return strings.Join(parts, "\n\n")
}
