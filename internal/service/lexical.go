package service

import (
	"math"
	"sort"

	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
)

// lexicalSearch ranks live chunks by the Ochiai coefficient between the
// query's word set and the chunk's. Chunks sharing no word are dropped, so a
// query unrelated to the corpus yields nothing.
func (p *Pipeline) lexicalSearch(query string, topK int) []domain.SearchResult {
	qset := toTokenSet(query)
	if len(qset) == 0 {
		return nil
	}
	type pair struct {
		idx   int
		score float64
	}
	records := p.index.Snapshot().Records()
	var scores []pair
	for i, r := range records {
		if p.membership != nil && !p.membership.Contains(r.Chunk.DocumentID) {
			continue
		}
		if s := overlapOchiai(qset, r.Chunk.Text); s > 0 {
			scores = append(scores, pair{i, s})
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]domain.SearchResult, 0, topK)
	for _, s := range scores[:topK] {
		out = append(out, domain.SearchResult{Chunk: records[s.idx].Chunk, Score: s.score})
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	tokens := embedding.Tokens(s)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai is |A∩B| / sqrt(|A||B|) over distinct words.
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	seen := toTokenSet(text)
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	inter := 0
	for t := range seen {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}
