package scheduler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dwahbe/climate-river/internal/handler/http/requestid"
	"github.com/dwahbe/climate-river/internal/handler/http/respond"
	"github.com/dwahbe/climate-river/internal/infra/worker"
)

// PlatformCronHeader is the header an external scheduler (platform cron, a
// GitHub Actions workflow, cron-job.org) sets on trusted invocations. Its
// mere presence authenticates the request, on the assumption the deploy
// environment only lets the trusted scheduler reach this process with that
// header set — the same assumption Google Cloud Scheduler / Vercel Cron
// deployments rely on for their own equivalent headers.
const PlatformCronHeader = "X-Cron-Trigger"

// Handler serves GET/POST /cron/{light,delta,daily} (spec §6).
type Handler struct {
	Scheduler  *Scheduler
	AdminToken string
}

// NewHandler constructs a cron Handler backed by sched, gated by the given
// admin token (empty disables the bearer/query-token auth path — see
// WorkerConfig.AdminToken's doc comment on why that's dev-only).
func NewHandler(sched *Scheduler, adminToken string) *Handler {
	return &Handler{Scheduler: sched, AdminToken: adminToken}
}

// Routes registers the three cron endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/cron/light", h.serveTier("light", h.Scheduler.RunLight))
	mux.HandleFunc("/cron/delta", h.serveTier("delta", h.Scheduler.RunDelta))
	mux.HandleFunc("/cron/daily", h.serveTier("daily", h.Scheduler.RunDaily))
}

func (h *Handler) serveTier(tier string, run func(ctx context.Context, req Request) map[string]StageResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			respond.Error(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}

		if !h.authenticated(r) {
			slog.Warn("unauthenticated cron request",
				slog.String("tier", tier),
				slog.String("request_id", requestid.FromContext(r.Context())))
			respond.JSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}

		req := parseRequest(r)
		start := time.Now()

		results := run(r.Context(), req)

		tookMs := time.Since(start).Milliseconds()
		slog.Info("cron tier completed",
			slog.String("tier", tier),
			slog.Int64("took_ms", tookMs),
			slog.Bool("explicit_trigger", r.URL.Query().Get("cron") == "1"))

		respond.JSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"took_ms":  tookMs,
			"result":   results,
		})
	}
}

// authenticated implements spec §6's three-way auth check.
func (h *Handler) authenticated(r *http.Request) bool {
	if r.Header.Get(PlatformCronHeader) != "" {
		return true
	}
	if h.AdminToken == "" {
		return false
	}
	if token := r.URL.Query().Get("token"); token != "" && constantTimeEqual(token, h.AdminToken) {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		bearer := strings.TrimPrefix(auth, "Bearer ")
		if constantTimeEqual(bearer, h.AdminToken) {
			return true
		}
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func parseRequest(r *http.Request) Request {
	q := r.URL.Query()
	return Request{
		Limit:    parseIntParam(q.Get("limit")),
		Discover: parseIntParam(q.Get("discover")),
		Rewrite:  parseIntParam(q.Get("rewrite")),
	}
}

func parseIntParam(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// NewHandlerFromConfig is a convenience constructor wiring a Handler
// straight from the worker package's environment-loaded configuration.
func NewHandlerFromConfig(sched *Scheduler, cfg *worker.WorkerConfig) *Handler {
	return NewHandler(sched, cfg.AdminToken)
}
