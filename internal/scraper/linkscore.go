package scraper

import (
	"net/url"
	"sort"
	"strings"
)

const (
	highKeywordWeight = 3.0
	lowKeywordWeight  = -4.0
	depthPenalty      = 0.5
)

// scoredLink pairs a candidate subpage URL with its heuristic score.
type scoredLink struct {
	url   string
	score float64
}

// scoreLinks ranks candidate subpage URLs by keyword heuristics: a
// positive weight for identity/offerings/trust-and-team keywords, a
// negative weight for navigational junk, and a penalty proportional to
// URL path depth so deeply nested pages need stronger keyword signal to
// be worth a subpage fetch.
func scoreLinks(links []string, highKeywords, lowKeywords []string) []scoredLink {
	var scored []scoredLink
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		path := strings.ToLower(u.Path)
		score := 0.0
		for _, kw := range highKeywords {
			if strings.Contains(path, kw) {
				score += highKeywordWeight
			}
		}
		for _, kw := range lowKeywords {
			if strings.Contains(path, kw) {
				score += lowKeywordWeight
			}
		}
		depth := pathDepth(u.Path)
		score -= float64(depth) * depthPenalty
		scored = append(scored, scoredLink{url: link, score: score})
	}
	return scored
}

func pathDepth(path string) int {
	path = strings.Trim(path, "/")
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

// topSubpages returns up to max links scoring at or above minScore,
// highest score first, ties broken by original order.
func topSubpages(scored []scoredLink, minScore float64, max int) []string {
	var candidates []scoredLink
	for _, s := range scored {
		if s.score >= minScore {
			candidates = append(candidates, s)
		}
	}
	// Stable sort keeps original order among equal scores, which matters
	// for determinism in tests.
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.url
	}
	return out
}
