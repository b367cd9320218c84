package usecase

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

// The engine prints the artifact path as a double-quoted string on its last
// output line, e.g. `[1] "E:/media/results/out.pdf"`. The first quoted
// substring is taken as the path.
var quotedPathPattern = regexp.MustCompile(`"(.+?)"`)

var driveLetterPattern = regexp.MustCompile(`^[A-Za-z]:`)

type ResultNormalizer struct {
	mediaRoot      string
	mediaURLPrefix string
	localPrefix    string
}

func NewResultNormalizer(mediaRoot, mediaURLPrefix, localPrefix string) *ResultNormalizer {
	return &ResultNormalizer{
		mediaRoot:      mediaRoot,
		mediaURLPrefix: mediaURLPrefix,
		localPrefix:    localPrefix,
	}
}

func (n *ResultNormalizer) Normalize(raw string) (domain.NormalizedResult, error) {
	return NormalizeResult(raw, n.mediaRoot, n.mediaURLPrefix, n.localPrefix)
}

// NormalizeResult extracts the artifact path from a raw job result and, when
// the path starts with localPrefix, rewrites it into a URL under
// mediaURLPrefix. An empty localPrefix means no path is locally servable.
//
// Without a quoted substring the raw string is used verbatim and the result
// is marked Degraded. A local path that does not sit under mediaRoot is an
// ErrPathNormalization error rather than a broken link.
func NormalizeResult(raw, mediaRoot, mediaURLPrefix, localPrefix string) (domain.NormalizedResult, error) {
	var out domain.NormalizedResult
	if match := quotedPathPattern.FindStringSubmatch(raw); match != nil {
		out.DisplayPath = unescapePrinted(match[1])
	} else {
		out.DisplayPath = raw
		out.Degraded = true
	}

	if !hasLocalPrefix(out.DisplayPath, localPrefix) {
		return out, nil
	}

	rel, err := relativeToRoot(out.DisplayPath, mediaRoot)
	if err != nil {
		return out, domain.WrapError(domain.ErrPathNormalization, "normalize result", err)
	}
	out.ServableURL = joinMediaURL(mediaURLPrefix, rel)
	return out, nil
}

// unescapePrinted undoes the backslash doubling R's print() applies inside
// quoted strings.
func unescapePrinted(s string) string {
	return strings.ReplaceAll(s, `\\`, `\`)
}

func hasLocalPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	p = toSlash(p)
	prefix = toSlash(prefix)
	if len(p) < len(prefix) {
		return false
	}
	return strings.EqualFold(p[:len(prefix)], prefix)
}

func relativeToRoot(target, root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("media root is not configured")
	}
	t := cleanPath(target)
	r := cleanPath(root)

	// Drive-letter paths compare case-insensitively.
	equal := func(a, b string) bool { return a == b }
	if driveLetterPattern.MatchString(r) {
		equal = strings.EqualFold
	}

	if equal(t, r) {
		return "", fmt.Errorf("%q is the media root itself", target)
	}
	prefix := strings.TrimSuffix(r, "/") + "/"
	if len(t) <= len(prefix) || !equal(t[:len(prefix)], prefix) {
		return "", fmt.Errorf("%q is not under media root %q", target, root)
	}
	return t[len(prefix):], nil
}

func joinMediaURL(prefix, rel string) string {
	segments := strings.Split(rel, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.Join(segments, "/")
}

func cleanPath(p string) string {
	return path.Clean(toSlash(strings.TrimSpace(p)))
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
