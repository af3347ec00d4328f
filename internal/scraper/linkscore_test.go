package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreLinksRewardsIdentityKeywords(t *testing.T) {
	links := []string{
		"https://acme.example/quem-somos",
		"https://acme.example/login",
		"https://acme.example/random-deep/a/b/c/d",
	}
	scored := scoreLinks(links, []string{"quem-somos"}, []string{"login"})

	byURL := make(map[string]float64, len(scored))
	for _, s := range scored {
		byURL[s.url] = s.score
	}
	require.Greater(t, byURL["https://acme.example/quem-somos"], byURL["https://acme.example/login"])
	require.Greater(t, byURL["https://acme.example/quem-somos"], byURL["https://acme.example/random-deep/a/b/c/d"])
}

func TestTopSubpagesRespectsMaxAndFloor(t *testing.T) {
	scored := []scoredLink{
		{url: "a", score: 5},
		{url: "b", score: 1},
		{url: "c", score: -1},
		{url: "d", score: 3},
	}
	out := topSubpages(scored, 0, 2)
	require.Equal(t, []string{"a", "d"}, out)
}

func TestTopSubpagesFloorExcludesLowScores(t *testing.T) {
	scored := []scoredLink{
		{url: "a", score: 5},
		{url: "b", score: 0.5},
	}
	out := topSubpages(scored, 1.0, 10)
	require.Equal(t, []string{"a"}, out)
}
