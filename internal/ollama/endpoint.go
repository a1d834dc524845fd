package ollama

import (
	"fmt"
	"net/url"
	"strings"
)

func buildEndpoint(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: want http(s)://host[:port]", baseURL)
	}
	return u.JoinPath(path).String(), nil
}
