package river

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dwahbe/climate-river/internal/handler/http/respond"
)

var errMethodNotAllowed = errors.New("method not allowed")

// Handler serves GET /river, the read-only consumer-facing view of the
// ranked cluster list (spec §4.7). Unlike /cron/*, this endpoint carries no
// authentication — it is the public feed a frontend polls.
type Handler struct {
	Service *Service
}

// NewHandler constructs a river Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Service: svc}
}

// Routes registers GET /river on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/river", h.serveRiver)
}

func (h *Handler) serveRiver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	view := View(q.Get("view"))
	category := q.Get("category")
	windowHours, _ := strconv.Atoi(q.Get("window_hours"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	clusters, err := h.Service.Fetch(r.Context(), view, category, windowHours, limit)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}
