// Package httpapi is the device-facing HTTP surface: ingestion of log
// lines and samples, query and clear endpoints for viewers, and the
// cooperative shutdown request.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/modoterra/telesink/pkg/core"
)

// DefaultMaxBodyBytes bounds request bodies on the ingestion endpoints.
const DefaultMaxBodyBytes int64 = 1 << 20

// Ack bodies returned by the endpoints.
const (
	AckLogsReceived       = "Logs received"
	AckDataReceived       = "Data received"
	AckLogsCleared        = "Logs cleared"
	AckDisplayLogsCleared = "Display logs cleared"
	AckDataCleared        = "Data cleared"
	AckShutdown           = "Server arrestato"

	MsgInvalidShape = "Invalid data format, expected a list"
)

// Sink is the store facade the handlers operate on.
type Sink interface {
	AppendLog(ctx context.Context, text string, target core.Target) core.LogEntry
	// AppendSample decodes body per contentType and stores it. It returns
	// core.ErrInvalidShape when the body is not a list.
	AppendSample(ctx context.Context, body []byte, contentType string) (core.Sample, error)
	Lines(seq core.Sequence) ([]string, error)
	Samples() []core.Sample
	Clear(ctx context.Context, seq core.Sequence) error
	Stats() core.Stats
	// RequestShutdown reports whether this call triggered the shutdown.
	RequestShutdown() bool
}

// Options configures the API.
type Options struct {
	Sink          Sink
	Logger        *slog.Logger
	ReceiveTarget core.Target   // target of /receive and /receive_logs; zero means both
	PollInterval  time.Duration // viewer page refresh; zero means 250ms
	MaxBodyBytes  int64         // zero means DefaultMaxBodyBytes
}

// API routes HTTP requests to a Sink.
type API struct {
	sink    Sink
	logger  *slog.Logger
	target  core.Target
	poll    time.Duration
	maxBody int64
	mux     *http.ServeMux
}

// New builds the API and registers its routes.
func New(opts Options) *API {
	a := &API{
		sink:    opts.Sink,
		logger:  opts.Logger,
		target:  opts.ReceiveTarget,
		poll:    opts.PollInterval,
		maxBody: opts.MaxBodyBytes,
		mux:     http.NewServeMux(),
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.target == 0 {
		a.target = core.TargetBoth
	}
	if a.poll <= 0 {
		a.poll = 250 * time.Millisecond
	}
	if a.maxBody <= 0 {
		a.maxBody = DefaultMaxBodyBytes
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /ping", a.handlePing)
	a.mux.HandleFunc("GET /stats", a.handleStats)
	a.mux.HandleFunc("/favicon.ico", a.handleFavicon)

	a.mux.HandleFunc("POST /receive", a.handleReceiveLogs)
	a.mux.HandleFunc("POST /receive_logs", a.handleReceiveLogs)
	a.mux.HandleFunc("POST /receive_data", a.handleReceiveData)

	a.mux.HandleFunc("GET /get_logs", a.handleGetLogs(core.SequenceDurable))
	a.mux.HandleFunc("GET /get_display_logs", a.handleGetLogs(core.SequenceDisplay))
	a.mux.HandleFunc("GET /get_data", a.handleGetData)

	a.mux.HandleFunc("GET /clear_logs", a.handleClear(core.SequenceDurable, AckLogsCleared))
	a.mux.HandleFunc("GET /clear_server_logs", a.handleClear(core.SequenceDurable, AckLogsCleared))
	a.mux.HandleFunc("GET /clear_display_logs", a.handleClear(core.SequenceDisplay, AckDisplayLogsCleared))
	a.mux.HandleFunc("GET /clear_server_data", a.handleClear(core.SequenceSamples, AckDataCleared))

	a.mux.HandleFunc("POST /shutdown", a.handleShutdown)

	a.mux.HandleFunc("GET /logs", a.handleViewer(viewerDurable))
	a.mux.HandleFunc("GET /display_logs", a.handleViewer(viewerDisplay))
}

// Handler returns the root handler: request logging around gzip
// compression around the router.
func (a *API) Handler() http.Handler {
	return a.logRequests(gzhttp.GzipHandler(a.mux))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}
