package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finrec/internal/log"
	"finrec/internal/middleware/ratelimit"
	"finrec/internal/middleware/security"
	"finrec/internal/middleware/trace"
	"finrec/internal/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the handlers call into.
type Dependencies struct {
	Ingest  *services.IngestService
	Records *services.RecordService
	Store   Pinger
	Logger  *log.Logger
}

// Options tune request limits. Zero values fall back to defaults.
type Options struct {
	UploadDir          string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	// CacheStats reports entries, hits and misses of the read cache.
	CacheStats func() (size int, hits, misses uint64)
}

type appMetrics struct {
	uptime time.Time

	mu          sync.Mutex
	uploads     int64
	ingestFails map[string]int64
}

func (m *appMetrics) recordUpload(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if category == "" {
		m.uploads++
		return
	}
	m.ingestFails[category]++
}

type Server struct {
	http.Server
	logger *log.Logger

	ingest  *services.IngestService
	records *services.RecordService
	store   Pinger

	uploadDir      string
	maxUploadBytes int64
	cacheStats     func() (int, uint64, uint64)

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

const (
	defaultMaxUploadBytes = 10 << 20
	defaultUploadDir      = "uploads"
)

// NewServer configures routes and middleware, returning a ready-to-run server.
// Every route is served both at the root and under /api.
func NewServer(addr string, deps Dependencies, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.UploadDir == "" {
		opts.UploadDir = defaultUploadDir
	}

	detector := security.NewDetector()
	s := &Server{
		logger:           logger.WithComponent(log.ComponentHTTP),
		ingest:           deps.Ingest,
		records:          deps.Records,
		store:            deps.Store,
		uploadDir:        opts.UploadDir,
		maxUploadBytes:   opts.MaxUploadBytes,
		cacheStats:       opts.CacheStats,
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		appMetrics:       &appMetrics{uptime: time.Now(), ingestFails: map[string]int64{}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("POST "+prefix+"/finances/upload/{userId}/{year}", s.handleUpload)
		mux.HandleFunc("GET "+prefix+"/finances/{userId}/{year}", s.handleGetRecords)
		mux.HandleFunc("GET "+prefix+"/finances/{userId}/{year}/summary", s.handleGetSummary)
		mux.HandleFunc("DELETE "+prefix+"/finances/{userId}/{year}", s.handleDeletePartition)
		mux.HandleFunc("GET "+prefix+"/finances/{userId}", s.handleListPartitions)
	}

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(detector.ExtractClientIP, s.onRateLimited, http.MethodPost, http.MethodDelete)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = s.withSuspiciousRequestLogging(handler)
	handler = log.Middleware(logger, trace.GetRequestID)(handler)
	handler = headers.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s
}

// withSuspiciousRequestLogging only observes; requests are still served.
func (s *Server) withSuspiciousRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.securityDetector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Suspicious request detected",
				log.NewFields().
					WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
					WithClientIP(s.securityDetector.ExtractClientIP(r)).
					ToSlice()...)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.NewFields().
			WithHTTPRequest(r.Method, r.URL.Path, "", "").
			WithClientIP(s.securityDetector.ExtractClientIP(r)).
			ToSlice()...)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Rate limit exceeded. Please try again later."})
}

// Shutdown stops background routines and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
