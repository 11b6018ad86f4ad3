// Package frontend exposes the path finder over HTTP: a JSON endpoint that
// answers with the finished path and a WebSocket endpoint that streams
// search progress while the path is being looked up.
package frontend

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	"Friend_Path/pathfinder"
	"Friend_Path/progress"
	"Friend_Path/socialgraph/graph"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	pathEndpoint       = "/api/path"
	pathStreamEndpoint = "/api/path/ws"
	metricsEndpoint    = "/metrics"

	defaultSearchTimeout   = 2 * time.Minute
	defaultShutdownTimeout = 10 * time.Second

	// Capacity of the per-connection progress buffer. Events that arrive
	// while it is full are dropped.
	progressBuffer = 64

	// Non-standard status recorded when the caller went away before the
	// search finished.
	statusClientClosedRequest = 499
)

var errMissingHandles = xerrors.New("both usernames are required")

// PathFinder defines the API method for running a path search.
type PathFinder interface {
	FindPath(ctx context.Context, startHandle, endHandle string, reporter progress.Reporter) (*pathfinder.Result, error)
}

// Config encapsulates the settings for configuring the front-end service.
type Config struct {
	// An API for running path searches.
	Finder PathFinder

	// The address to listen for incoming requests.
	ListenAddr string

	// Optional source for the metrics endpoint. When nil the endpoint is
	// not registered.
	Gatherer prometheus.Gatherer

	// Upper bound for a single search. Defaults to 2 minutes.
	SearchTimeout time.Duration

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.ListenAddr == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address has not been specified"))
	}
	if cfg.Finder == nil {
		err = multierror.Append(err, xerrors.Errorf("path finder has not been provided"))
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaultSearchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Service implements the front-end component of the friend path server.
type Service struct {
	cfg       Config
	router    *mux.Router
	sanitizer *bluemonday.Policy
	upgrader  websocket.Upgrader
}

// NewService creates a new front-end service instance with the specified
// config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("front-end service: config validation failed: %w", err)
	}

	svc := &Service{
		cfg:       cfg,
		router:    mux.NewRouter(),
		sanitizer: bluemonday.StrictPolicy(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	svc.router.HandleFunc(pathEndpoint, svc.findPath).Methods(http.MethodPost)
	svc.router.HandleFunc(pathStreamEndpoint, svc.streamPath).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		svc.router.Handle(metricsEndpoint, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return svc, nil
}

// Name implements service.Service
func (svc *Service) Name() string { return "front-end" }

// Run implements service.Service
func (svc *Service) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", svc.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	srv := &http.Server{
		Addr:              svc.cfg.ListenAddr,
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			svc.cfg.Logger.WithField("err", err).Warn("front-end server did not shut down cleanly")
		}
	}()

	svc.cfg.Logger.WithField("addr", l.Addr().String()).Info("starting front-end server")
	if err = srv.Serve(l); err == http.ErrServerClosed {
		<-stopped
		err = nil
	}
	return err
}

// ServeHTTP dispatches requests to the service's router.
func (svc *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc.router.ServeHTTP(w, r)
}

type pathRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type pathResponse struct {
	SessionID    string         `json:"session_id"`
	Path         []graph.Handle `json:"path"`
	IDs          []graph.NodeID `json:"ids"`
	NodesChecked int            `json:"nodes_checked"`
	Elapsed      string         `json:"elapsed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// streamMessage is the envelope for every frame sent on the progress
// stream. Type is one of "progress", "result" or "error".
type streamMessage struct {
	Type     string          `json:"type"`
	Progress *progress.Event `json:"progress,omitempty"`
	Result   *pathResponse   `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Status   int             `json:"status,omitempty"`
}

func (svc *Service) findPath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		svc.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), svc.cfg.SearchTimeout)
	defer cancel()

	res, err := svc.search(ctx, req, nil)
	if err != nil {
		status, msg := svc.errorStatus(err)
		svc.writeJSON(w, status, errorResponse{Error: msg})
		return
	}
	svc.writeJSON(w, http.StatusOK, toResponse(res))
}

func (svc *Service) streamPath(w http.ResponseWriter, r *http.Request) {
	conn, err := svc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		svc.cfg.Logger.WithField("err", err).Debug("unable to upgrade progress stream")
		return
	}
	defer func() { _ = conn.Close() }()

	var req pathRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(streamMessage{Type: "error", Error: "malformed request", Status: http.StatusBadRequest})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), svc.cfg.SearchTimeout)
	defer cancel()

	type outcome struct {
		res *pathfinder.Result
		err error
	}
	events := make(chan progress.Event, progressBuffer)
	done := make(chan outcome, 1)
	go func() {
		res, err := svc.search(ctx, req, progress.Chan(events))
		done <- outcome{res: res, err: err}
	}()

	send := func(msg streamMessage) bool {
		if err := conn.WriteJSON(msg); err != nil {
			svc.cfg.Logger.WithField("err", err).Debug("progress stream closed by peer")
			return false
		}
		return true
	}

	for {
		select {
		case ev := <-events:
			if !send(streamMessage{Type: "progress", Progress: &ev}) {
				return
			}
		case out := <-done:
			for len(events) > 0 {
				ev := <-events
				if !send(streamMessage{Type: "progress", Progress: &ev}) {
					return
				}
			}

			var msg streamMessage
			if out.err != nil {
				status, errMsg := svc.errorStatus(out.err)
				msg = streamMessage{Type: "error", Error: errMsg, Status: status}
			} else {
				msg = streamMessage{Type: "result", Result: toResponse(out.res)}
			}
			if send(msg) {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}

// search strips markup and surrounding whitespace from both handles before
// handing them to the path finder.
func (svc *Service) search(ctx context.Context, req pathRequest, reporter progress.Reporter) (*pathfinder.Result, error) {
	start := strings.TrimSpace(svc.sanitizer.Sanitize(req.Start))
	end := strings.TrimSpace(svc.sanitizer.Sanitize(req.End))
	if start == "" || end == "" {
		return nil, errMissingHandles
	}
	return svc.cfg.Finder.FindPath(ctx, start, end, reporter)
}

// errorStatus maps a search error to a response status and a message that
// is safe to show to the caller.
func (svc *Service) errorStatus(err error) (int, string) {
	switch {
	case xerrors.Is(err, errMissingHandles):
		return http.StatusBadRequest, err.Error()
	case xerrors.Is(err, pathfinder.ErrInvalidHandle):
		var invalid *pathfinder.InvalidHandleError
		if xerrors.As(err, &invalid) {
			return http.StatusBadRequest, invalid.Error()
		}
		return http.StatusBadRequest, pathfinder.ErrInvalidHandle.Error()
	case xerrors.Is(err, graph.ErrNoPath):
		return http.StatusNotFound, "no path found"
	case xerrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "search timed out"
	case xerrors.Is(err, context.Canceled):
		svc.cfg.Logger.WithField("err", err).Debug("path search abandoned by client")
		return statusClientClosedRequest, "search cancelled"
	}
	svc.cfg.Logger.WithField("err", err).Error("path search failed")
	return http.StatusInternalServerError, "search failed"
}

func (svc *Service) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		svc.cfg.Logger.WithField("err", err).Debug("unable to write response")
	}
}

func toResponse(res *pathfinder.Result) *pathResponse {
	ids := make([]graph.NodeID, len(res.Hops))
	for i, hop := range res.Hops {
		ids[i] = hop.ID
	}
	return &pathResponse{
		SessionID:    res.SessionID,
		Path:         res.Path,
		IDs:          ids,
		NodesChecked: res.NodesChecked,
		Elapsed:      res.Elapsed.String(),
	}
}
