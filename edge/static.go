package edge

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/metrics"
	"github.com/mediadash/edge/utils"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	errStaticForbidden = errors.New("forbidden")
	errStaticNotFound  = errors.New("not found")
)

const (
	cacheControlEntry     = "no-cache"
	cacheControlImmutable = "public, max-age=31536000, immutable"
	cacheControlMedia     = "public, max-age=604800"
)

type static struct {
	cfg *config.Edge

	root   string
	fs     fasthttp.RequestHandler
	logger *zap.Logger
}

func newStatic(cfg *config.Edge, logger *zap.Logger) (*static, error) {
	root, err := filepath.EvalSymlinks(cfg.StaticRoot)
	if err != nil {
		return nil, err
	}
	if root, err = filepath.Abs(root); err != nil {
		return nil, err
	}

	s := &static{
		cfg:    cfg,
		root:   root,
		logger: logger,
	}

	files := &fasthttp.FS{
		AcceptByteRange:    true,
		CacheDuration:      10 * time.Second,
		Compress:           false, // never write .gz siblings into the static root
		GenerateIndexPages: false,
		IndexNames:         []string{cfg.EntryDocument},
		PathNotFound:       s.notFound,
		Root:               root,
	}
	s.fs = files.NewRequestHandler()

	if _, err := os.Stat(filepath.Join(root, cfg.EntryDocument)); err != nil {
		logger.Warn("Entry document is not accessible, root path will answer 404",
			zap.String("entry_document", cfg.EntryDocument),
			zap.Error(err),
		)
	}

	return s, nil
}

// ResolveStatic maps a decoded request path onto a file below root.  Paths with
// dot-dot segments, backslashes or NUL bytes are rejected outright, and so are
// symlinks that lead outside of root.  Root is expected to be absolute and free
// of symlinks.
func ResolveStatic(root, requestPath string) (string, error) {
	if strings.ContainsAny(requestPath, "\\\x00") {
		return "", errStaticForbidden
	}
	for _, segment := range strings.Split(requestPath, "/") {
		if segment == ".." {
			return "", errStaticForbidden
		}
	}

	target := filepath.Join(root, filepath.FromSlash(path.Clean("/"+requestPath)))

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", errStaticForbidden
		}
		return "", errStaticNotFound
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errStaticForbidden
	}

	return resolved, nil
}

// CachePolicy picks the cache-control header for a static file.  Build outputs
// under /assets/ carry content hashes in their names and never change.
func CachePolicy(requestPath string, entry bool) string {
	if entry {
		return cacheControlEntry
	}

	ext := strings.ToLower(path.Ext(requestPath))
	if ext == ".html" || ext == ".htm" {
		return cacheControlEntry
	}

	if strings.HasPrefix(requestPath, "/assets/") {
		return cacheControlImmutable
	}

	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".avif", ".ico",
		".woff", ".woff2", ".ttf", ".otf", ".eot":
		return cacheControlMedia
	}

	return cacheControlEntry
}

func (s *static) serve(ctx *fasthttp.RequestCtx) {
	l := s.logger.With(
		zap.Uint64("connection_id", ctx.ConnID()),
		zap.Uint64("connection_request_num", ctx.ConnRequestNum()),
		zap.String("remote_addr", ctx.RemoteAddr().String()),
		zap.String("method", utils.Str(ctx.Method())),
		zap.String("path", utils.Str(ctx.Path())),
	)

	if !ctx.IsGet() && !ctx.IsHead() {
		s.reject(ctx, l, fasthttp.StatusMethodNotAllowed)
		return
	}

	requestPath, err := url.PathUnescape(utils.Str(ctx.Request.URI().PathOriginal()))
	if err != nil {
		s.reject(ctx, l, fasthttp.StatusBadRequest)
		return
	}

	entry := utils.Str(ctx.Path()) == "/"

	resolved, err := ResolveStatic(s.root, requestPath)
	if entry && err == nil {
		resolved, err = ResolveStatic(s.root, "/"+s.cfg.EntryDocument)
	}
	switch {
	case errors.Is(err, errStaticForbidden):
		s.reject(ctx, l, fasthttp.StatusForbidden)
		return
	case err != nil:
		s.reject(ctx, l, fasthttp.StatusNotFound)
		return
	}

	info, err := os.Stat(resolved)
	switch {
	case errors.Is(err, fs.ErrPermission):
		s.reject(ctx, l, fasthttp.StatusForbidden)
		return
	case err != nil, !info.Mode().IsRegular():
		s.reject(ctx, l, fasthttp.StatusNotFound)
		return
	}

	// fasthttp.FS answers 404 to anything it fails to open
	f, err := os.Open(resolved)
	switch {
	case errors.Is(err, fs.ErrPermission):
		s.reject(ctx, l, fasthttp.StatusForbidden)
		return
	case err != nil:
		s.reject(ctx, l, fasthttp.StatusNotFound)
		return
	}
	_ = f.Close()

	s.fs(ctx)

	switch ctx.Response.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusPartialContent, fasthttp.StatusNotModified:
		ctx.Response.Header.Set(fasthttp.HeaderCacheControl, CachePolicy(utils.Str(ctx.Path()), entry))
		if entry {
			ctx.Response.Header.SetContentType("text/html; charset=utf-8")
		}

		metrics.StaticServedCount.Add(context.TODO(), 1)
		l.Debug("Served static file",
			zap.Int("http_status", ctx.Response.StatusCode()),
			zap.Int64("size", info.Size()),
		)

	default:
		metrics.StaticRejectedCount.Add(context.TODO(), 1, otelapi.WithAttributes(
			attribute.KeyValue{Key: "status", Value: attribute.IntValue(ctx.Response.StatusCode())},
		))
		l.Info("Failed to serve static file",
			zap.Int("http_status", ctx.Response.StatusCode()),
		)
	}
}

func (s *static) notFound(ctx *fasthttp.RequestCtx) {
	ctx.Error(fasthttp.StatusMessage(fasthttp.StatusNotFound), fasthttp.StatusNotFound)
}

func (s *static) reject(ctx *fasthttp.RequestCtx, l *zap.Logger, status int) {
	ctx.Error(fasthttp.StatusMessage(status), status)
	if status == fasthttp.StatusMethodNotAllowed {
		ctx.Response.Header.Set(fasthttp.HeaderAllow, "GET, HEAD")
	}

	metrics.StaticRejectedCount.Add(context.TODO(), 1, otelapi.WithAttributes(
		attribute.KeyValue{Key: "status", Value: attribute.IntValue(status)},
	))

	if status == fasthttp.StatusForbidden {
		l.Warn("Rejected static request",
			zap.Int("http_status", status),
			zap.String("raw_path", utils.Str(ctx.Request.URI().PathOriginal())),
		)
		return
	}

	l.Debug("Rejected static request",
		zap.Int("http_status", status),
	)
}
