package consent

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	AnalyticsCookiePrefixes = []string{"_ga", "_gid", "_gat", "_gac_"}
	MarketingCookiePrefixes = []string{"_fbp", "_fbc", "_gcl_", "IDE", "test_cookie"}
)

// CookieJar is the page's view of its cookies. Names lists what the page can
// read; the Domain and Path a cookie was written with are not visible.
type CookieJar interface {
	Names() []string
	Expire(e Expiry)
}

// Expiry is one attempt to delete a cookie under a specific scope. An empty
// Domain targets the host-only cookie.
type Expiry struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

// String renders e the way it is assigned to document.cookie or sent as a
// Set-Cookie header.
func (e Expiry) String() string {
	c := &http.Cookie{
		Name:     e.Name,
		Path:     e.Path,
		Domain:   e.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   e.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return c.String()
}

// DomainCandidates lists every Domain a cookie visible on hostname may have
// been written with: the host itself and each parent up to, but excluding,
// the last label.
func DomainCandidates(hostname string) []string {
	out := make([]string, 0, 8)
	seen := make(map[string]bool)
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	add(hostname)
	add("." + hostname)

	var labels []string
	for _, l := range strings.Split(hostname, ".") {
		if l != "" {
			labels = append(labels, l)
		}
	}
	for i := 1; i < len(labels)-1; i++ {
		root := strings.Join(labels[i:], ".")
		add(root)
		add("." + root)
	}
	return out
}

// PathCandidates lists "/" followed by every cumulative prefix of path.
func PathCandidates(path string) []string {
	out := []string{"/"}
	current := ""
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		current += "/" + seg
		if current != "/" {
			out = append(out, current)
		}
	}
	return out
}

// DeleteByPrefix expires every cookie whose name starts with one of prefixes,
// across all domain and path variants that could apply at loc.
func DeleteByPrefix(jar CookieJar, loc Location, prefixes []string) int {
	if jar == nil {
		return 0
	}
	var targets []string
	for _, name := range jar.Names() {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				targets = append(targets, name)
				break
			}
		}
	}
	if len(targets) == 0 {
		return 0
	}

	domains := DomainCandidates(loc.Hostname)
	paths := PathCandidates(loc.Path)
	secureModes := []bool{false}
	if loc.Secure {
		secureModes = append(secureModes, true)
	}

	for _, name := range targets {
		for _, path := range paths {
			for _, secure := range secureModes {
				jar.Expire(Expiry{Name: name, Path: path, Secure: secure})
			}
			for _, domain := range domains {
				for _, secure := range secureModes {
					jar.Expire(Expiry{Name: name, Path: path, Domain: domain, Secure: secure})
				}
			}
		}
	}
	return len(targets)
}

// StoredCookie is a cookie as the browser keeps it, with its scope.
type StoredCookie struct {
	Name     string
	Value    string
	Domain   string // without leading dot
	HostOnly bool
	Path     string
	Secure   bool
}

// MemoryJar models a browser cookie store for one host. A cookie is only
// removed by an Expiry that matches its exact scope; secure cookies need a
// secure expiry.
type MemoryJar struct {
	mu      sync.Mutex
	host    string
	cookies []StoredCookie
	issued  []string
}

func NewMemoryJar(host string) *MemoryJar {
	return &MemoryJar{host: host}
}

// Set stores a cookie. An empty domain makes it host-only.
func (j *MemoryJar) Set(name, value, domain, path string, secure bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c := StoredCookie{Name: name, Value: value, Path: path, Secure: secure}
	if domain == "" {
		c.Domain = j.host
		c.HostOnly = true
	} else {
		c.Domain = strings.TrimPrefix(domain, ".")
	}
	if c.Path == "" {
		c.Path = "/"
	}
	for i, existing := range j.cookies {
		if sameScope(existing, c) {
			j.cookies[i] = c
			return
		}
	}
	j.cookies = append(j.cookies, c)
}

func (j *MemoryJar) Names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for _, c := range j.cookies {
		if !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (j *MemoryJar) Expire(e Expiry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.issued = append(j.issued, e.String())

	kept := j.cookies[:0]
	for _, c := range j.cookies {
		if !expiryMatches(e, c) {
			kept = append(kept, c)
		}
	}
	j.cookies = kept
}

func (j *MemoryJar) Cookies() []StoredCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]StoredCookie(nil), j.cookies...)
}

// Issued returns every deletion directive written so far.
func (j *MemoryJar) Issued() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.issued...)
}

func sameScope(a, b StoredCookie) bool {
	return a.Name == b.Name && a.Domain == b.Domain && a.HostOnly == b.HostOnly && a.Path == b.Path
}

func expiryMatches(e Expiry, c StoredCookie) bool {
	if e.Name != c.Name || e.Path != c.Path {
		return false
	}
	if c.Secure && !e.Secure {
		return false
	}
	if e.Domain == "" {
		return c.HostOnly
	}
	return !c.HostOnly && strings.TrimPrefix(e.Domain, ".") == c.Domain
}
