// Package server exposes the publish orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/blacktop/unipost/internal/assist"
	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
	"github.com/blacktop/unipost/internal/store"
)

// Publisher runs a publish job.
type Publisher interface {
	PublishToAll(ctx context.Context, job publish.Job) []publish.Result
}

// History persists and lists publish results.
type History interface {
	RecordResults(ctx context.Context, userID string, results []publish.Result) (string, error)
	History(ctx context.Context, userID string, f store.HistoryFilter) ([]store.PublishRecord, error)
}

// Drafter generates post text.
type Drafter interface {
	Generate(ctx context.Context, prompt string) (assist.Draft, error)
}

// Options configures a Server. Drafter may be nil, in which case
// POST /v1/draft answers 503. MediaDir is the only directory media may be
// attached from; when empty, requests carrying media are rejected.
type Options struct {
	Addr      string
	JWTSecret string
	RateLimit float64
	Burst     int
	MediaDir  string
	Publisher Publisher
	History   History
	Drafter   Drafter
}

type Server struct {
	addr      string
	secret    []byte
	publisher Publisher
	history   History
	drafter   Drafter
	mediaDir  string
	limiter   *limiter
	router    *gin.Engine
}

// New builds the router. A JWT secret is required.
func New(opts Options) (*Server, error) {
	if opts.JWTSecret == "" {
		return nil, errors.New("server.jwt_secret must be set")
	}
	if opts.Publisher == nil || opts.History == nil {
		return nil, errors.New("publisher and history are required")
	}
	if !logutil.Verbose() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		addr:      opts.Addr,
		secret:    []byte(opts.JWTSecret),
		publisher: opts.Publisher,
		history:   opts.History,
		drafter:   opts.Drafter,
		mediaDir:  opts.MediaDir,
		router:    gin.New(),
	}
	if opts.RateLimit > 0 {
		s.limiter = newLimiter(opts.RateLimit, opts.Burst)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger())
	s.router.Use(gzip.Gzip(gzip.DefaultCompression))
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	v1 := s.router.Group("/v1", s.requireAuth(), s.rateLimit())
	{
		v1.POST("/publish", s.handlePublish)
		v1.GET("/history", s.handleHistory)
		v1.POST("/draft", s.handleDraft)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logutil.Infof("listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logutil.Infof("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type mediaRequest struct {
	Path    string `json:"path" binding:"required"`
	AltText string `json:"alt_text"`
}

type publishRequest struct {
	Platforms         []string          `json:"platforms" binding:"required,min=1"`
	Content           string            `json:"content"`
	ContentByPlatform map[string]string `json:"content_by_platform"`
	Media             []mediaRequest    `json:"media" binding:"dive"`
	Webhooks          map[string]string `json:"webhooks"`
}

var errMediaDisabled = errors.New("media attachments are not enabled on this server")

// resolveMedia maps a caller supplied media name onto a regular file inside
// dir. Absolute names, parent traversal and symlinks leading out of dir are
// rejected.
func resolveMedia(dir, name string) (string, error) {
	if dir == "" {
		return "", errMediaDisabled
	}
	name = filepath.FromSlash(strings.TrimSpace(name))
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("media path %q must be a relative name inside the media directory", name)
	}

	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", errors.New("media directory is unavailable")
	}
	resolved, err := filepath.EvalSymlinks(filepath.Join(root, name))
	if err != nil {
		return "", fmt.Errorf("media %q not found", name)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("media path %q must be a relative name inside the media directory", name)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("media %q is not a regular file", name)
	}
	return resolved, nil
}

type publishResponse struct {
	BatchID string           `json:"batch_id"`
	Results []publish.Result `json:"results"`
	Summary publish.Summary  `json:"summary"`
}

func platformMap(raw map[string]string) (map[publish.Platform]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[publish.Platform]string, len(raw))
	for k, v := range raw {
		p, err := publish.ParsePlatform(k)
		if err != nil {
			return nil, err
		}
		out[p] = v
	}
	return out, nil
}

func (r publishRequest) job(userID, mediaDir string) (publish.Job, error) {
	job := publish.Job{UserID: userID, DefaultContent: r.Content}
	for _, name := range r.Platforms {
		p, err := publish.ParsePlatform(name)
		if err != nil {
			return publish.Job{}, err
		}
		job.Platforms = append(job.Platforms, p)
	}
	var err error
	if job.Content, err = platformMap(r.ContentByPlatform); err != nil {
		return publish.Job{}, err
	}
	if job.Webhooks, err = platformMap(r.Webhooks); err != nil {
		return publish.Job{}, err
	}
	for _, m := range r.Media {
		path, err := resolveMedia(mediaDir, m.Path)
		if err != nil {
			return publish.Job{}, err
		}
		job.Media = append(job.Media, publish.Media{Path: path, AltText: m.AltText})
	}
	return job, nil
}

func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := currentUser(c)
	job, err := req.job(userID, s.mediaDir)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := s.publisher.PublishToAll(c.Request.Context(), job)
	batchID, err := s.history.RecordResults(c.Request.Context(), userID, results)
	if err != nil {
		_ = c.Error(err)
		logutil.Errorf("failed to record publish history: %v", err)
	}
	c.JSON(http.StatusOK, publishResponse{
		BatchID: batchID,
		Results: results,
		Summary: publish.Summarize(results),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	filter := store.HistoryFilter{}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}
	if raw := c.Query("platform"); raw != "" {
		p, err := publish.ParsePlatform(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Platform = p
	}
	filter.FailedOnly = strings.EqualFold(c.Query("failed"), "true")

	recs, err := s.history.History(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

type draftRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (s *Server) handleDraft(c *gin.Context) {
	if s.drafter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "drafting is not configured"})
		return
	}
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft, err := s.drafter.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "failures": draft.Failures})
		return
	}
	c.JSON(http.StatusOK, draft)
}
