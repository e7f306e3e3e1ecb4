package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"dot segments", "http://example.com/foo/./bar/baz/../qux", "http://example.com/foo/bar/qux"},
		{"duplicate slashes", "http://example.com/foo//bar.html", "http://example.com/foo/bar.html"},
		{"scheme and host case", "HTTP://User@Example.COM/Foo", "http://User@example.com/Foo"},
		{"sorted query", "http://example.com/display?lang=en&article=fred", "http://example.com/display?article=fred&lang=en"},
		{"default port and fragment", "http://example.com:80/bar.html#section1", "http://example.com/bar.html"},
		{"empty query", "http://example.com/display?", "http://example.com/display"},
		{"https default port", "https://example.com:443/a", "https://example.com/a"},
		{"non default port kept", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"trailing slash kept", "http://example.com/a/b/", "http://example.com/a/b/"},
		{"parent at end", "http://example.com/a/b/..", "http://example.com/a/"},
		{"escaped path kept", "http://example.com/a%2Fb/c", "http://example.com/a%2Fb/c"},
		{"empty params dropped", "http://example.com/?b=1&&a=2", "http://example.com/?a=2&b=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"http://example.com/foo/./bar/baz/../qux",
		"HTTP://User@Example.COM/Foo//Bar/?z=1&a=2#frag",
		"http://example.com:80/display?",
		"https://EXAMPLE.com:443/a/../../b/./c/",
		"http://example.com",
		"http://example.com/%7Euser/index.html?q=a%20b",
	}
	for _, in := range inputs {
		once, err := NormalizeURL(in)
		require.NoError(t, err)
		twice, err := NormalizeURL(once)
		require.NoError(t, err)
		require.Equal(t, once, twice, "input %q", in)
	}
}

func TestNormalizeURLMalformedLeftUnchanged(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"http://exa mple.com/", "/relative/path", "mailto:someone@example.com"} {
		got, err := NormalizeURL(in)
		require.Error(t, err)
		require.Equal(t, in, got)
	}
}

func FuzzNormalizeURL(f *testing.F) {
	for _, seed := range []string{"http://example.com/a/../b?y=1&x=2#f", "https://Example.com:443//x"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once, err := NormalizeURL(in)
		if err != nil {
			return
		}
		twice, err := NormalizeURL(once)
		if err != nil {
			t.Fatalf("normalized %q failed to re-normalize: %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	})
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", HostOf("https://Example.com:8443/x"))
	require.Empty(t, HostOf("http://%"))
}
