package pipeline

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keeps non-default port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"sorts query parameters", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) error = %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"/relative/path", "example.com/no-scheme", ""} {
		if _, err := NormalizeURL(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"Shop.Example.COM", "shop.example.com"},
		{"https://example.com", "example.com"},
		{"https://example.com:443/docs", "example.com"},
		{"  example.com  ", "example.com"},
	}
	for _, tc := range cases {
		got, err := NormalizeDomain(tc.in)
		if err != nil {
			t.Fatalf("NormalizeDomain(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, in := range []string{"", "   ", "https://"} {
		if _, err := NormalizeDomain(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
