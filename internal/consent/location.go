package consent

import (
	"fmt"
	"net/url"
)

// Location is the page context the manager runs in.
type Location struct {
	URL       string
	Hostname  string
	Path      string
	Secure    bool
	Referrer  string
	UserAgent string
	Title     string
}

func ParseLocation(rawURL string) (Location, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Location{}, fmt.Errorf("parse page url: %w", err)
	}
	if u.Hostname() == "" {
		return Location{}, fmt.Errorf("page url %q has no host", rawURL)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return Location{
		URL:      u.String(),
		Hostname: u.Hostname(),
		Path:     path,
		Secure:   u.Scheme == "https",
	}, nil
}
