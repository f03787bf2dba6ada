package edge

import (
	"net/url"
	"strings"
)

// MatchPrefix reports whether the request path is the proxied prefix itself or
// lies below it (segment-wise: "/api" matches "/api" and "/api/x" but not
// "/apix").  The part of the path that follows the prefix is returned as the
// subpath.
func MatchPrefix(prefix, path string) (subpath string, ok bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}

	subpath = path[len(prefix):]
	if subpath != "" && subpath[0] != '/' {
		return "", false
	}

	return subpath, true
}

// ForwardedSubpath picks the subpath relayed to the upstream.  Routing is done
// on the normalized path, but the upstream gets the client's original bytes
// ("%2F", "//" and dot segments intact) whenever the original path carries the
// prefix verbatim.  Otherwise (an escaped or dot-segmented prefix) the escaped
// form of the normalized subpath is used.
func ForwardedSubpath(prefix, original, normalized string) string {
	if subpath, ok := MatchPrefix(prefix, original); ok {
		return subpath
	}

	subpath, _ := MatchPrefix(prefix, normalized)
	return (&url.URL{Path: subpath}).EscapedPath()
}

// UpstreamPath builds the path of the request sent to the upstream.  The prefix
// is re-applied, so the upstream sees the very same path the client asked for:
// "/api" + "/users/1" => "/api/users/1".
func UpstreamPath(prefix, subpath string) string {
	return prefix + subpath
}
