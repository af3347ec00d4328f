package htmlx

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractDropsNavAndScript(t *testing.T) {
	raw := `<html><head><title>ACME</title><script>var x=1;</script></head>
<body>
<nav><a href="/login">Login</a></nav>
<main><p>Somos uma empresa de plasticos.</p></main>
<footer>copyright 2024</footer>
</body></html>`

	base, err := url.Parse("https://acme.example/")
	require.NoError(t, err)

	ex, err := Extract(raw, base)
	require.NoError(t, err)
	require.Equal(t, "ACME", ex.Title)
	require.Contains(t, ex.Text, "Somos uma empresa de plasticos.")
	require.NotContains(t, ex.Text, "copyright 2024")
	require.NotContains(t, ex.Text, "var x=1")
}

func TestExtractResolvesRelativeLinks(t *testing.T) {
	raw := `<html><body><a href="/sobre">Sobre</a><a href="https://other.example/x">Other</a></body></html>`
	base, _ := url.Parse("https://acme.example/home")

	ex, err := Extract(raw, base)
	require.NoError(t, err)
	require.Contains(t, ex.Links, "https://acme.example/sobre")
	require.Contains(t, ex.Links, "https://other.example/x")
}

func TestSameDomainLinks(t *testing.T) {
	base, _ := url.Parse("https://acme.example/")
	links := []string{
		"https://acme.example/sobre",
		"https://other.example/x",
		"https://ACME.example/contato",
	}
	out := SameDomainLinks(links, base)
	require.ElementsMatch(t, []string{"https://acme.example/sobre", "https://ACME.example/contato"}, out)
}
