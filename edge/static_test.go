package edge_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mediadash/edge/edge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStatic(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "css", "site.css"), []byte("body{}"), 0o644))

	{ // inside
		for _, p := range []string{"/css/site.css", "css/site.css", "/css//site.css", "/./css/site.css"} {
			resolved, err := edge.ResolveStatic(root, p)
			require.NoError(t, err, p)
			assert.Equal(t, filepath.Join(root, "css", "site.css"), resolved, p)
		}
	}

	{ // rejected
		for _, p := range []string{"/../etc/passwd", "/css/../../x", "/css/..", "/css\\site.css", "/a\x00b"} {
			_, err := edge.ResolveStatic(root, p)
			assert.Error(t, err, p)
		}
	}

	{ // missing
		_, err := edge.ResolveStatic(root, "/css/missing.css")
		assert.Error(t, err)
	}
}

func TestResolveStaticStaysInsideRoot(t *testing.T) {
	parent, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	root := filepath.Join(parent, "public")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(parent, "outside"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "outside", "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(parent, "outside"), filepath.Join(root, "linked")))

	_, err = edge.ResolveStatic(root, "/linked/x.txt")
	assert.Error(t, err)

	for _, p := range []string{"/", "/linked", "/nothing/here", "/%2e%2e"} {
		resolved, err := edge.ResolveStatic(root, p)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, resolved)
		require.NoError(t, err)
		assert.NotContains(t, rel, "..", p)
	}
}

func TestCachePolicy(t *testing.T) {
	for _, tc := range []struct {
		path     string
		entry    bool
		expected string
	}{
		{"/", true, "no-cache"},
		{"/index.html", false, "no-cache"},
		{"/assets/index.html", false, "no-cache"},
		{"/assets/app.3f2a.js", false, "public, max-age=31536000, immutable"},
		{"/assets/app.9c1d.css", false, "public, max-age=31536000, immutable"},
		{"/assets/font.woff2", false, "public, max-age=31536000, immutable"},
		{"/favicon.ico", false, "public, max-age=604800"},
		{"/img/Poster.JPG", false, "public, max-age=604800"},
		{"/fonts/icons.woff2", false, "public, max-age=604800"},
		{"/config.js", false, "no-cache"},
		{"/robots.txt", false, "no-cache"},
	} {
		assert.Equal(t, tc.expected, edge.CachePolicy(tc.path, tc.entry), tc.path)
	}
}
