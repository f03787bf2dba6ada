package edge_test

import (
	"testing"

	"github.com/mediadash/edge/edge"

	"github.com/stretchr/testify/assert"
)

func TestMatchPrefix(t *testing.T) {
	for _, tc := range []struct {
		path    string
		subpath string
		ok      bool
	}{
		{"/api", "", true},
		{"/api/", "/", true},
		{"/api/users/1", "/users/1", true},
		{"/api/v1/subscribe/list", "/v1/subscribe/list", true},
		{"/apix", "", false},
		{"/apidoc/index.html", "", false},
		{"/", "", false},
		{"/index.html", "", false},
		{"/static/api/x.js", "", false},
	} {
		subpath, ok := edge.MatchPrefix("/api", tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.subpath, subpath, tc.path)
	}
}

func TestUpstreamPathPreservesPrefix(t *testing.T) {
	assert.Equal(t, "/api/foo", edge.UpstreamPath("/api", "/foo"))
	assert.Equal(t, "/api", edge.UpstreamPath("/api", ""))
	assert.Equal(t, "/api/", edge.UpstreamPath("/api", "/"))
	assert.Equal(t, "/backend/v1/x", edge.UpstreamPath("/backend/v1", "/x"))

	// matching and then re-applying the prefix is an identity
	for _, path := range []string{"/api", "/api/", "/api/foo", "/api/users/1/avatar.png"} {
		subpath, ok := edge.MatchPrefix("/api", path)
		assert.True(t, ok)
		assert.Equal(t, path, edge.UpstreamPath("/api", subpath))
	}
}

func TestForwardedSubpath(t *testing.T) {
	for _, tc := range []struct {
		original   string
		normalized string
		subpath    string
	}{
		{"/api/users/1", "/api/users/1", "/users/1"},
		{"/api/files/a%2Fb", "/api/files/a/b", "/files/a%2Fb"},
		{"/api/x//y", "/api/x/y", "/x//y"},
		{"/api/a/./b", "/api/a/b", "/a/./b"},
		{"/api/download/a%20b", "/api/download/a b", "/download/a%20b"},
		{"/api", "/api", ""},
		{"/%61pi/users", "/api/users", "/users"},
		{"/x/../api/a%20b", "/api/a b", "/a%20b"},
	} {
		assert.Equal(t, tc.subpath, edge.ForwardedSubpath("/api", tc.original, tc.normalized), tc.original)
	}
}
