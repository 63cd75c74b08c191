package edgeware

import (
	"net/url"
	"path"
	"strings"
)

// Class is the access class of a request path
type Class int

const (
	ClassProtected Class = iota
	ClassPublic
	ClassEmbeddedOnly
)

func (c Class) String() string {
	switch c {
	case ClassPublic:
		return "PUBLIC"
	case ClassEmbeddedOnly:
		return "EMBEDDED_ONLY"
	default:
		return "PROTECTED"
	}
}

// Rules decide the class of a path. Evaluation order is fixed:
// embedded-only, then the public allow-list, then protected.
type Rules struct {
	// EmbeddedPrefixes are sub-applications that may only be reached from
	// a page of the same sub-application.
	EmbeddedPrefixes []string
	// EmbedderPrefixes are pages outside the sub-applications allowed to
	// load them, typically the host page of the iframe.
	EmbedderPrefixes []string

	PublicExact    []string
	PublicPrefixes []string
	PublicContains []string
	// PublicStatic makes any path whose last segment has a file
	// extension public.
	PublicStatic bool
}

// DefaultRules is the allow-list of the front-door router with the auth
// endpoints mounted under authPrefix.
func DefaultRules(authPrefix string) Rules {
	authPrefix = "/" + strings.Trim(authPrefix, "/")
	return Rules{
		EmbeddedPrefixes: []string{
			"/webtoon/",
			"/webtoon-hl/",
			"/goods-gen/",
			"/ppl-gen",
			"/question/",
		},
		PublicExact: []string{
			"/",
			"/login",
			"/register",
			"/email-verification",
			"/find-id",
			"/find-password",
			"/main",
			"/notice-board",
			"/faq",
			"/health",
		},
		PublicPrefixes: []string{
			authPrefix + "/login",
			authPrefix + "/refresh",
			authPrefix + "/verify-code",
			authPrefix + "/reset-password",
			authPrefix + "/resend-code",
			authPrefix + "/password-reset",
			authPrefix + "/logout",
			"/users/register",
			"/users/check-email",
			"/users/find-id",
			"/board/",
			"/@",
			"/src/",
			"/node_modules/",
		},
		PublicContains: []string{"vite"},
		PublicStatic:   true,
	}
}

// Classify returns the class of p
func (r Rules) Classify(p string) Class {
	if p == "" {
		p = "/"
	}

	if r.embeddedPrefix(p) != "" {
		return ClassEmbeddedOnly
	}

	for _, exact := range r.PublicExact {
		if p == exact {
			return ClassPublic
		}
	}

	for _, prefix := range r.PublicPrefixes {
		if strings.HasPrefix(p, prefix) {
			return ClassPublic
		}
	}

	for _, part := range r.PublicContains {
		if strings.Contains(p, part) {
			return ClassPublic
		}
	}

	if r.PublicStatic && path.Ext(p) != "" {
		return ClassPublic
	}

	return ClassProtected
}

func (r Rules) embeddedPrefix(p string) string {
	for _, prefix := range r.EmbeddedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return prefix
		}
	}
	return ""
}

// EmbeddedAllowed reports whether a request for p with the given
// referer comes from inside the same sub-application, or from one of
// the embedder pages. The referer must be on host.
func (r Rules) EmbeddedAllowed(p, referer, host string) bool {
	prefix := r.embeddedPrefix(p)
	if prefix == "" || referer == "" {
		return false
	}

	ref, err := url.Parse(referer)
	if err != nil {
		return false
	}

	if ref.Host != "" && host != "" && !strings.EqualFold(ref.Hostname(), host) {
		return false
	}

	refPath := ref.Path
	if refPath == "" {
		refPath = "/"
	}

	if strings.HasPrefix(refPath, prefix) {
		return true
	}

	for _, embedder := range r.EmbedderPrefixes {
		if embedder == "/" && refPath == "/" {
			return true
		}
		if embedder != "/" && strings.HasPrefix(refPath, embedder) {
			return true
		}
	}
	return false
}
