package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"companyprofiler/internal/search"
)

func newTestOrchestrator(d Dispatcher, s Scraper, sc search.Client) *Orchestrator {
	return New(d, s, sc, nil, testChunkingConfig(), testPipelineConfig())
}

func TestDiscoverReturnsFoundOnLiveCandidate(t *testing.T) {
	d := &fakeDispatcher{discoveryContent: `{"site":"https://acme.example"}`}
	sc := search.NewFakeClient()
	sc.Responses["Acme Sao Paulo"] = []search.Result{{Title: "Acme", Link: "https://acme.example"}}

	o := newTestOrchestrator(d, &fakeScraper{}, sc)
	o.probeClient = httpAlwaysOKClient()

	result, err := o.discover(context.Background(), CompanyIdentifier{TradeName: "Acme", City: "Sao Paulo"})
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "https://acme.example", result.URL)
}

func TestDiscoverReturnsNotFoundOnNaoEncontrado(t *testing.T) {
	d := &fakeDispatcher{discoveryContent: `{"site":"nao_encontrado"}`}
	sc := search.NewFakeClient()
	sc.Responses["Acme Sao Paulo"] = []search.Result{{Title: "Acme", Link: "https://unrelated.example"}}

	o := newTestOrchestrator(d, &fakeScraper{}, sc)
	result, err := o.discover(context.Background(), CompanyIdentifier{TradeName: "Acme", City: "Sao Paulo"})
	require.NoError(t, err)
	require.False(t, result.Found)
}

func TestDiscoverReturnsNotFoundWhenProbeFails(t *testing.T) {
	d := &fakeDispatcher{discoveryContent: `{"site":"https://acme.example"}`}
	sc := search.NewFakeClient()
	sc.Responses["Acme Sao Paulo"] = []search.Result{{Title: "Acme", Link: "https://acme.example"}}

	o := newTestOrchestrator(d, &fakeScraper{}, sc)
	o.probeClient = httpAlwaysFailClient()

	result, err := o.discover(context.Background(), CompanyIdentifier{TradeName: "Acme", City: "Sao Paulo"})
	require.NoError(t, err)
	require.False(t, result.Found)
}

func TestDiscoverFailsWithNoSearchResultsWhenBothQueriesEmpty(t *testing.T) {
	d := &fakeDispatcher{}
	sc := search.NewFakeClient()

	o := newTestOrchestrator(d, &fakeScraper{}, sc)
	_, err := o.discover(context.Background(), CompanyIdentifier{TradeName: "Acme", City: "Sao Paulo"})

	var pipelineErr *Error
	require.ErrorAs(t, err, &pipelineErr)
	require.Equal(t, FailureNoSearchResults, pipelineErr.Kind)
}

func TestDiscoverFailsWithDiscoveryLLMOnPrimaryAndBackupError(t *testing.T) {
	d := &fakeDispatcher{discoveryErr: errors.New("provider unreachable")}
	sc := search.NewFakeClient()
	sc.Responses["Acme Sao Paulo"] = []search.Result{{Title: "Acme", Link: "https://acme.example"}}

	cfg := testPipelineConfig()
	cfg.DiscoveryProviders = []string{"primary", "backup"}
	o := New(d, &fakeScraper{}, sc, nil, testChunkingConfig(), cfg)

	_, err := o.discover(context.Background(), CompanyIdentifier{TradeName: "Acme", City: "Sao Paulo"})
	var pipelineErr *Error
	require.ErrorAs(t, err, &pipelineErr)
	require.Equal(t, FailureDiscoveryLLM, pipelineErr.Kind)
}

func TestSearchQueriesPrefersTradeAndLegalName(t *testing.T) {
	id := CompanyIdentifier{TradeName: "Acme", LegalName: "Acme Industria Ltda", City: "Sao Paulo"}
	queries := searchQueries(id)
	require.Equal(t, []string{"Acme Sao Paulo", "Acme Industria Ltda Sao Paulo"}, queries)
}

func TestSearchQueriesSkipsDuplicateLegalName(t *testing.T) {
	id := CompanyIdentifier{TradeName: "Acme", LegalName: "Acme", City: "Sao Paulo"}
	queries := searchQueries(id)
	require.Equal(t, []string{"Acme Sao Paulo"}, queries)
}
