package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spektr-org/insight/engine"
	"github.com/spektr-org/insight/insight"
	"github.com/spektr-org/insight/session"
)

// previewRows caps the rows rendered into the initial page.
const previewRows = 200

// ============================================================================
// PAGE
// ============================================================================

type pageData struct {
	Title   string
	Version string
	Tabs    []string
	Styles  map[string]template.CSS
	Headers []string
	Rows    [][]string
	Total   int
	Modes   []string
}

func (h *handler) page(w http.ResponseWriter, r *http.Request) {
	styles, _ := insight.ComputeVisibility(insight.TabData)
	css := make(map[string]template.CSS, len(styles))
	for id, st := range styles {
		// built from the fixed style table, never from request input
		css[id] = template.CSS(st.CSS())
	}

	rows := h.Table.Rows()
	total := len(rows)
	if len(rows) > previewRows {
		rows = rows[:previewRows]
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := pageTemplate.Execute(w, pageData{
		Title:   h.Table.Name(),
		Version: h.Version,
		Tabs:    insight.Tabs,
		Styles:  css,
		Headers: h.Table.Headers(),
		Rows:    rows,
		Total:   total,
		Modes:   []string{insight.ModeRaw, insight.ModeUseLLM},
	})
	if err != nil {
		h.Logger.Error("render dashboard page", "error", err)
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}

// ============================================================================
// DATA
// ============================================================================

type tableResponse struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Total   int        `json:"total"`
}

// table serves the data tab. filter=<column>:<substring> keeps rows whose
// cell contains the substring; limit caps the rows returned.
func (h *handler) table(w http.ResponseWriter, r *http.Request) {
	rows := h.Table.Rows()
	if f := r.URL.Query().Get("filter"); f != "" {
		col, substr, ok := strings.Cut(f, ":")
		if !ok {
			writeError(w, http.StatusBadRequest, "filter must be <column>:<text>")
			return
		}
		var err error
		rows, err = h.Table.Filter(col, substr)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, engine.ErrUnknownColumn) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
	}
	total := len(rows)
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(rows) {
			rows = rows[:n]
		}
	}
	writeJSON(w, http.StatusOK, tableResponse{Columns: h.Table.Headers(), Rows: rows, Total: total})
}

func (h *handler) schema(w http.ResponseWriter, r *http.Request) {
	sch, err := h.Table.Schema()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// ============================================================================
// SESSIONS
// ============================================================================

type turnView struct {
	Label    string `json:"label"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Image    string `json:"image,omitempty"`
}

type sessionResponse struct {
	ID          string     `json:"id"`
	Tab         string     `json:"tab"`
	Clicks      int        `json:"clicks"`
	Mode        string     `json:"mode"`
	Output      []turnView `json:"output"`
	Instruction string     `json:"instruction,omitempty"`
}

func turnViews(t insight.Transcript) []turnView {
	out := make([]turnView, len(t))
	for i, turn := range t {
		out[i] = turnView{Label: turn.Label(), Question: turn.Question, Answer: turn.Answer, Image: turn.Image}
	}
	return out
}

func newSessionResponse(id string, st *session.State) sessionResponse {
	return sessionResponse{
		ID:          id,
		Tab:         st.Tab,
		Clicks:      st.Clicks,
		Mode:        st.Mode,
		Output:      turnViews(st.Transcript),
		Instruction: st.Instruction,
	}
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	st := session.NewState()
	if err := h.Sessions.Save(r.Context(), id, st); err != nil {
		h.Logger.Error("save new session", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(id, st))
}

// loadSession writes the error response itself and returns nil when the
// session cannot be loaded.
func (h *handler) loadSession(w http.ResponseWriter, r *http.Request) (string, *session.State) {
	id := chi.URLParam(r, "id")
	st, err := h.Sessions.Load(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown session "+id)
		return id, nil
	}
	if err != nil {
		h.Logger.Error("load session", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load session")
		return id, nil
	}
	return id, st
}

func (h *handler) saveSession(w http.ResponseWriter, r *http.Request, id string, st *session.State) bool {
	st.UpdatedAt = time.Now().UTC()
	if err := h.Sessions.Save(r.Context(), id, st); err != nil {
		h.Logger.Error("save session", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save session")
		return false
	}
	return true
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, st := h.loadSession(w, r)
	if st == nil {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(id, st))
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Sessions.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// TAB + SUBMIT
// ============================================================================

type tabRequest struct {
	Tab string `json:"tab"`
}

type tabResponse struct {
	Tab     string                  `json:"tab"`
	Styles  insight.VisibilityState `json:"styles"`
	CSS     map[string]string       `json:"css"`
	Trigger int                     `json:"trigger"`
}

func (h *handler) switchTab(w http.ResponseWriter, r *http.Request) {
	var body tabRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer h.locks.lock(chi.URLParam(r, "id"))()
	id, st := h.loadSession(w, r)
	if st == nil {
		return
	}

	styles, reset := insight.ComputeVisibility(body.Tab)
	st.Tab = body.Tab
	st.Clicks = reset
	if !h.saveSession(w, r, id, st) {
		return
	}

	label := body.Tab
	if !insight.KnownTab(label) {
		label = "other"
	}
	h.metrics.TabSwitches.WithLabelValues(label).Inc()

	css := make(map[string]string, len(styles))
	for p, s := range styles {
		css[p] = s.CSS()
	}
	writeJSON(w, http.StatusOK, tabResponse{Tab: body.Tab, Styles: styles, CSS: css, Trigger: reset})
}

type submitRequest struct {
	Mode   string `json:"mode"`
	Prompt string `json:"prompt"`
}

type submitResponse struct {
	Output      []turnView `json:"output"`
	Message     string     `json:"message,omitempty"`
	Instruction *string    `json:"instruction"`
	Clicks      int        `json:"clicks"`
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if h.Limiter != nil && !h.Limiter.Allow() {
		h.metrics.Queries.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "too many questions, slow down")
		return
	}
	// overlapping submits on one session run one after another
	defer h.locks.lock(chi.URLParam(r, "id"))()
	id, st := h.loadSession(w, r)
	if st == nil {
		return
	}

	st.Clicks++
	if body.Mode != "" {
		st.Mode = body.Mode
	}

	start := time.Now()
	res, err := h.Asker.HandleQuery(r.Context(), insight.Request{
		Tab:     st.Tab,
		Trigger: st.Clicks,
		Mode:    st.Mode,
		Prompt:  body.Prompt,
		Output:  st.Transcript,
	})
	h.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.Queries.WithLabelValues("error").Inc()
		h.Logger.Error("question failed", "session", id, "error", err)
		// the click still counts
		if err := h.Sessions.Save(r.Context(), id, st); err != nil {
			h.Logger.Warn("save session after failed question", "session", id, "error", err)
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch {
	case res.Message != "":
		h.metrics.Queries.WithLabelValues("invalid").Inc()
	case res.Output == nil:
		h.metrics.Queries.WithLabelValues("ignored").Inc()
	default:
		h.metrics.Queries.WithLabelValues("answered").Inc()
		st.Transcript = res.Output
	}
	if res.Attempts > 0 {
		h.metrics.RefineAttempts.Observe(float64(res.Attempts))
	}
	if res.Instruction != nil {
		st.Instruction = *res.Instruction
	}
	if !h.saveSession(w, r, id, st) {
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Output:      turnViews(st.Transcript),
		Message:     res.Message,
		Instruction: res.Instruction,
		Clicks:      st.Clicks,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
