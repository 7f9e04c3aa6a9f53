package prompt

import (
	"fmt"
	"strings"

	"github.com/owantlab/arkgenie/internal/protocol"
	"github.com/owantlab/arkgenie/internal/rag"
)

// Composer builds session instructions for both call legs. The knowledge
// base is optional; without it the retrieval variants are never selected.
type Composer struct {
	kb   *rag.Index
	topK int
}

func NewComposer(kb *rag.Index) *Composer {
	return &Composer{kb: kb, topK: 3}
}

// Phone renders the outbound-call instructions for one customer and purpose.
func (c *Composer) Phone(purpose, customerName string) string {
	if strings.TrimSpace(purpose) == "" {
		purpose = defaultCallPurpose
	}
	if strings.TrimSpace(customerName) == "" {
		customerName = defaultCustomerName
	}
	out := strings.ReplaceAll(phoneInstructions, "{{CALL_PURPOSE}}", purpose)
	return strings.ReplaceAll(out, "{{CUSTOMER_NAME}}", customerName)
}

// App renders app-session instructions, injecting document analysis when the
// client supplied any.
func (c *Composer) App(contexts []protocol.AnalysisContext) string {
	return c.Select("", FormatAnalysisContexts(contexts))
}

// Chat renders instructions for one-shot text chat, searching the knowledge
// base with the user's message.
func (c *Composer) Chat(query string, contexts []protocol.AnalysisContext) string {
	ragContext := ""
	if c.kb.Enabled() {
		ragContext = rag.FormatContext(c.kb.Search(query, c.topK))
	}
	return c.Select(ragContext, FormatAnalysisContexts(contexts))
}

// Select picks the template variant for the available context blocks and
// fills in the placeholders.
func (c *Composer) Select(ragContext, analysisContext string) string {
	hasRAG := strings.TrimSpace(ragContext) != ""
	hasAnalysis := strings.TrimSpace(analysisContext) != ""

	var tpl string
	switch {
	case hasRAG && hasAnalysis:
		tpl = appInstructionsWithBoth
	case hasRAG:
		tpl = appInstructionsWithRAG
	case hasAnalysis:
		tpl = appInstructionsWithAnalysis
	default:
		return appInstructions
	}

	out := strings.ReplaceAll(tpl, "{{RAG_CONTEXT}}", ragContext)
	return strings.ReplaceAll(out, "{{ANALYSIS_CONTEXT}}", analysisContext)
}

// FormatAnalysisContexts joins per-file analysis results into one labelled
// block, numbering files in upload order.
func FormatAnalysisContexts(contexts []protocol.AnalysisContext) string {
	if len(contexts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(contexts))
	for i, cc := range contexts {
		name := cc.FileName
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("파일 %d", i+1)
		}
		parts = append(parts, fmt.Sprintf("=== [%d번 파일] %s ===\n%s", i+1, name, cc.Analysis))
	}
	return strings.Join(parts, "\n\n")
}
