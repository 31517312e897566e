package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"primate-rag/internal/domain"
)

// Count is a label with the number of papers carrying it.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats summarizes the catalog for questions about the collection itself.
type Stats struct {
	Total     int     `json:"total_papers"`
	WithCode  int     `json:"papers_with_code"`
	BySpecies []Count `json:"by_species"`
	ByTopic   []Count `json:"by_topic"`
	ByYear    []Count `json:"by_year"`
}

// ComputeStats counts papers by species, topic and year. Species and topic
// cells are comma-separated lists. Species and topics are ordered by count,
// most common first; years newest first.
func ComputeStats(docs []domain.Document) Stats {
	species := map[string]int{}
	topics := map[string]int{}
	years := map[string]int{}
	st := Stats{Total: len(docs)}
	for _, d := range docs {
		for _, s := range splitList(d.Species) {
			species[s]++
		}
		for _, t := range splitList(d.Topics) {
			topics[t]++
		}
		if d.Year > 0 {
			years[strconv.Itoa(d.Year)]++
		}
		if d.HasCode {
			st.WithCode++
		}
	}
	st.BySpecies = byCount(species)
	st.ByTopic = byCount(topics)
	st.ByYear = sorted(years)
	slices.Reverse(st.ByYear)
	return st
}

func splitList(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sorted(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, Count: v})
	}
	slices.SortFunc(out, func(a, b Count) int { return cmp.Compare(a.Label, b.Label) })
	return out
}

func byCount(m map[string]int) []Count {
	out := sorted(m)
	slices.SortStableFunc(out, func(a, b Count) int { return cmp.Compare(b.Count, a.Count) })
	return out
}

// MostStudied returns up to n species with the most papers.
func (s Stats) MostStudied(n int) []Count {
	return s.BySpecies[:min(n, len(s.BySpecies))]
}

// LeastStudied returns up to n species with the fewest papers.
func (s Stats) LeastStudied(n int) []Count {
	return s.BySpecies[max(0, len(s.BySpecies)-n):]
}

// Context renders the statistics block placed in front of meta questions.
// Only the ten most recent years are listed.
func (s Stats) Context() string {
	if s.Total == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("=== DATASET STATISTICS ===\n")
	fmt.Fprintf(&b, "Total papers in database: %d\n", s.Total)
	fmt.Fprintf(&b, "Papers with source code available: %d\n", s.WithCode)
	b.WriteString("\nPapers by species (most to least studied):\n")
	for _, c := range s.BySpecies {
		fmt.Fprintf(&b, "  - %s: %d papers\n", c.Label, c.Count)
	}
	b.WriteString("\nPapers by topic:\n")
	for _, c := range s.ByTopic {
		fmt.Fprintf(&b, "  - %s: %d papers\n", c.Label, c.Count)
	}
	b.WriteString("\nPapers by year:\n")
	for _, c := range s.ByYear[:min(10, len(s.ByYear))] {
		fmt.Fprintf(&b, "  - %s: %d papers\n", c.Label, c.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}
