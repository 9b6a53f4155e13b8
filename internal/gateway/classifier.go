// Package gateway is the edge request filter: it classifies every inbound
// path, authenticates protected requests, annotates them with the resolved
// identity, and turns every failure into a structured login redirect.
package gateway

import (
	"net/http"
	"path"
	"strings"
)

// Class is the outcome of path classification. Every possible request path
// maps to exactly one class.
type Class int

const (
	ClassPublic Class = iota
	ClassAsset
	ClassProtected
)

func (c Class) String() string {
	switch c {
	case ClassAsset:
		return "asset"
	case ClassProtected:
		return "protected"
	default:
		return "public"
	}
}

// Classifier decides whether a request needs a valid session. The rule set
// is deterministic and order-independent: allow-listed paths, bootstrap-token
// redemptions, and static assets pass through; everything else under a
// protected prefix requires authentication.
type Classifier struct {
	public        []string
	assetPrefixes []string
	protected     []string
	magicPrefix   string
	magicParam    string
}

// ClassifierConfig declares the path sets.
type ClassifierConfig struct {
	// PublicPaths pass through with no credential: login entry point,
	// unauthenticated auth exchange, health, chat webhook, maintenance.
	PublicPaths []string
	// AssetPrefixes hold framework-internal static content.
	AssetPrefixes []string
	// ProtectedPrefixes require a session; paths outside them are public.
	ProtectedPrefixes []string
	// MagicPrefix is the only subtree where a bootstrap-token query
	// parameter grants public classification.
	MagicPrefix string
	// MagicParam is the bootstrap-token query parameter name.
	MagicParam string
}

// NewClassifier constructs a Classifier.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{
		public:        cfg.PublicPaths,
		assetPrefixes: cfg.AssetPrefixes,
		protected:     cfg.ProtectedPrefixes,
		magicPrefix:   cfg.MagicPrefix,
		magicParam:    cfg.MagicParam,
	}
}

// Classify maps a request to its class.
func (c *Classifier) Classify(r *http.Request) Class {
	p := cleanPath(r.URL.Path)

	for _, allow := range c.public {
		if matchesPrefix(p, allow) {
			return ClassPublic
		}
	}

	// A bootstrap token in the query grants passage, but only on the
	// exchange subtree; granting it on arbitrary paths would be an open
	// bypass surface.
	if c.magicParam != "" && matchesPrefix(p, c.magicPrefix) && r.URL.Query().Get(c.magicParam) != "" {
		return ClassPublic
	}

	for _, prefix := range c.assetPrefixes {
		if matchesPrefix(p, prefix) {
			return ClassAsset
		}
	}
	if path.Ext(p) != "" {
		return ClassAsset
	}

	for _, prefix := range c.protected {
		if matchesPrefix(p, prefix) {
			return ClassProtected
		}
	}
	return ClassPublic
}

// matchesPrefix reports whether p equals base or sits under it.
func matchesPrefix(p, base string) bool {
	if base == "" {
		return false
	}
	if base == "/" {
		return true
	}
	base = strings.TrimSuffix(base, "/")
	return p == base || strings.HasPrefix(p, base+"/")
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
