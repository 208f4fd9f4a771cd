package abuseshield

import (
	"fmt"
	"strings"
	"time"
)

// Well-known endpoint class names. The class table is open to additional
// names from configuration; these cover the stock table.
const (
	ClassAdmin   = "admin"
	ClassAuth    = "auth"
	ClassGraphQL = "graphql"
	ClassAPI     = "api"
	ClassDefault = "default"
)

// EndpointClass carries the quota for one path-prefix category. Every
// request resolves to exactly one class; paths matching no prefix fall back
// to the default class.
type EndpointClass struct {
	Name          string   `yaml:"name"`
	Prefixes      []string `yaml:"prefixes"`
	MaxRequests   int      `yaml:"max_requests"`
	WindowSeconds int      `yaml:"window_seconds"`
}

// Window returns the class window as a duration.
func (c *EndpointClass) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// classTable is the ordered, immutable prefix table built at startup.
// Classification walks it in priority order and the first prefix match wins,
// so more specific prefixes must come earlier.
type classTable struct {
	classes  []EndpointClass
	fallback EndpointClass
}

// newClassTable validates and freezes the configured class list. The
// fallback class must carry a positive quota; listed classes must have
// unique names and positive quotas.
func newClassTable(classes []EndpointClass, fallback EndpointClass) (*classTable, error) {
	if fallback.Name == "" {
		fallback.Name = ClassDefault
	}
	if fallback.MaxRequests <= 0 || fallback.WindowSeconds <= 0 {
		return nil, fmt.Errorf("%w: class %q", ErrNonPositiveQuota, fallback.Name)
	}

	seen := map[string]bool{fallback.Name: true}
	for _, c := range classes {
		if c.Name == "" || len(c.Prefixes) == 0 {
			return nil, fmt.Errorf("%w: class needs a name and at least one prefix", ErrInvalidConfig)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateClass, c.Name)
		}
		seen[c.Name] = true
		if c.MaxRequests <= 0 || c.WindowSeconds <= 0 {
			return nil, fmt.Errorf("%w: class %q", ErrNonPositiveQuota, c.Name)
		}
		for _, p := range c.Prefixes {
			if !strings.HasPrefix(p, "/") {
				return nil, fmt.Errorf("%w: prefix %q of class %q must start with /", ErrInvalidConfig, p, c.Name)
			}
		}
	}

	table := &classTable{
		classes:  make([]EndpointClass, len(classes)),
		fallback: fallback,
	}
	copy(table.classes, classes)
	return table, nil
}

// Classify resolves a request path to its endpoint class.
func (t *classTable) Classify(path string) EndpointClass {
	for _, c := range t.classes {
		for _, p := range c.Prefixes {
			if strings.HasPrefix(path, p) {
				return c
			}
		}
	}
	return t.fallback
}

// defaultClasses returns the stock class table: most specific first, so the
// auth prefixes under /api win over the general api class.
func defaultClasses() []EndpointClass {
	return []EndpointClass{
		{Name: ClassAdmin, Prefixes: []string{"/admin"}, MaxRequests: 30, WindowSeconds: 60},
		{Name: ClassAuth, Prefixes: []string{
			"/accounts/login", "/accounts/password-reset", "/api/auth",
		}, MaxRequests: 5, WindowSeconds: 60},
		{Name: ClassGraphQL, Prefixes: []string{"/graphql"}, MaxRequests: 60, WindowSeconds: 60},
		{Name: ClassAPI, Prefixes: []string{"/api"}, MaxRequests: 100, WindowSeconds: 60},
	}
}
