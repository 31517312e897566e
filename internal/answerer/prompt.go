package answerer

import (
	"fmt"
	"strings"

	"primate-rag/internal/domain"
)

// SystemPrompt constrains answers to the supplied excerpts.
const SystemPrompt = `You are an expert assistant for computational primatology research.
You help researchers find and understand papers about machine learning applied to non-human primate studies.

You receive numbered EXCERPTS from papers, each labeled with the paper title, year and section (METHODS, RESULTS, INTRODUCTION, etc.).

RULES:
1. Answer ONLY from the excerpts provided. Do not use outside knowledge.
2. If the excerpts do not contain the answer, say "I don't have papers about that in my database".
3. Cite papers by title and year, for example (MacaquePose, 2021).
4. Reference sections when relevant: "In the Methods section of LemurFaceID (2017)..."
5. Be specific about methods, datasets, metrics and species names.
6. Mention code or data availability when it is stated.

Use bullet points where they help, quote findings from RESULTS sections, and note limitations in the available information.
If the question is unrelated to computational primatology, ask the user to ask about the papers instead.`

// MetaSystemPrompt is used for questions about the collection as a whole.
const MetaSystemPrompt = `You are an expert assistant for computational primatology research.
You help researchers understand the landscape of machine learning research applied to non-human primate studies.

You receive DATASET STATISTICS covering every paper in the database, followed by sample excerpts.
Use them to answer questions about which species are most or least studied, topic distribution, code availability and trends across years.

RULES:
1. Give accurate counts and percentages taken from the statistics.
2. When discussing underrepresented areas, cite the actual numbers.
3. Use the sample excerpts only as specific examples, cited by title and year.
4. Lead with the key statistics and point out research opportunities in underrepresented areas.`

// metaKeywords mark questions about the collection rather than its content.
var metaKeywords = []string{
	"how many", "statistics", "underrepresented", "gaps", "trends",
	"most common", "least common", "overview", "summary", "distribution",
	"breakdown", "total", "count", "popular", "rare", "missing",
	"what species", "which species", "all papers", "dataset",
}

// IsMeta reports whether question asks about the collection itself.
func IsMeta(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range metaKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

const contextSeparator = "\n\n---\n\n"

// BuildContext renders one entry per result in rank order:
//
//	[1] MacaquePose (2021), section METHODS
//	<chunk text>
func BuildContext(results []domain.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		title := r.Chunk.Title
		if title == "" {
			title = r.Chunk.DocumentID
		}
		section := r.Chunk.Section
		if section == "" {
			section = "body"
		}
		parts[i] = fmt.Sprintf("[%d] %s, section %s\n%s", i+1, domain.Citation(title, r.Chunk.Year), strings.ToUpper(section), r.Chunk.Text)
	}
	return strings.Join(parts, contextSeparator)
}

// BuildPrompt wraps the context block and the question. stats, when
// non-empty, is placed ahead of the excerpts.
func BuildPrompt(question string, results []domain.SearchResult, stats string) string {
	context := BuildContext(results)
	if stats != "" {
		if context == "" {
			context = stats
		} else {
			context = stats + "\n\n=== SAMPLE RELEVANT PAPERS ===\n\n" + context
		}
	}
	var b strings.Builder
	b.WriteString("Based on the following papers from my database:\n\n")
	b.WriteString(context)
	b.WriteString("\n\n---\n\nUser question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nPlease answer based on the papers above. If the papers don't contain relevant information, say so.")
	return b.String()
}

// trimHistory keeps the last n messages with known roles.
func trimHistory(history []domain.Message, n int) []domain.Message {
	out := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
