// Package web is the thin transport layer: REST endpoints that map
// HTTP verbs onto the core item/timer operations, a login endpoint for
// the identity boundary, and a websocket feed that runs one session
// controller per connection.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/internal/hub"
	"tally/internal/interval"
	"tally/internal/model"
	"tally/internal/store"
	"tally/internal/view"
)

type ServerConfig struct {
	Addr    string
	DataDir string // holds web/secret.key
}

type Server struct {
	cfg    ServerConfig
	st     *store.Store
	hub    *hub.Hub
	secret []byte
}

func NewServer(cfg ServerConfig, st *store.Store, h *hub.Hub) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.Addr == "" {
		return nil, errors.New("web: addr is empty")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("web: data dir is empty")
	}
	secret, err := loadOrInitSecretKey(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, st: st, hub: h, secret: secret}, nil
}

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /items", s.handleItemList)
	mux.HandleFunc("POST /items", s.handleItemCreate)
	mux.HandleFunc("GET /items/{itemId}", s.handleItemGet)
	mux.HandleFunc("PUT /items/{itemId}", s.handleItemEdit)
	mux.HandleFunc("DELETE /items/{itemId}", s.handleItemArchive)
	mux.HandleFunc("POST /items/{itemId}/status", s.handleItemStatus)
	mux.HandleFunc("GET /items/{itemId}/timers", s.handleTimerList)
	mux.HandleFunc("POST /items/{itemId}/timers", s.handleTimerStart)
	mux.HandleFunc("PUT /items/{itemId}/timers/{timerId}", s.handleTimerUpdate)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type loginRequest struct {
	PersonID    int64  `json:"personId,omitempty"`
	DisplayName string `json:"displayName"`
	Provider    string `json:"provider"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_request", "", "invalid json")
		return
	}
	p, err := s.st.EnsurePerson(r.Context(), req.PersonID, req.DisplayName, req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.newSessionToken(p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL / time.Second),
	})
	writeJSON(w, http.StatusOK, map[string]any{"person": p, "token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleItemList(w http.ResponseWriter, r *http.Request) {
	viewer := s.viewerFromRequest(r)
	items, err := view.Build(r.Context(), s.st, viewer, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type itemRequest struct {
	Text   string `json:"text"`
	Status string `json:"status,omitempty"`
}

func (s *Server) handleItemCreate(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_request", "", "invalid json")
		return
	}
	viewer := s.viewerFromRequest(r)
	it, err := s.st.CreateItem(r.Context(), req.Text, viewer, model.Status(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r, hub.KindCreate, it.OwnerID)
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleItemGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemRef(w, r)
	if !ok {
		return
	}
	it, ok := s.visibleItem(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// visibleItem loads an item and enforces the viewer's visibility rule
// for every item-scoped route, reads and writes alike: another owner's
// item is presented as absent rather than forbidden.
func (s *Server) visibleItem(w http.ResponseWriter, r *http.Request, id int64) (model.Item, bool) {
	it, err := s.st.GetItem(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return model.Item{}, false
	}
	if !it.VisibleTo(s.viewerFromRequest(r)) {
		s.writeError(w, store.NotFoundError{Kind: "item", ID: id})
		return model.Item{}, false
	}
	return it, true
}

func (s *Server) handleItemEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemRef(w, r)
	if !ok {
		return
	}
	if _, ok := s.visibleItem(w, r, id); !ok {
		return
	}
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_request", "", "invalid json")
		return
	}
	it, err := s.st.EditItem(r.Context(), id, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r, hub.KindUpdate, it.OwnerID)
	writeJSON(w, http.StatusOK, it)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleItemStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemRef(w, r)
	if !ok {
		return
	}
	if _, ok := s.visibleItem(w, r, id); !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_request", "", "invalid json")
		return
	}
	it, err := s.st.SetStatus(r.Context(), id, model.Status(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	kind := hub.KindUpdate
	if it.Status == model.StatusArchived {
		kind = hub.KindDelete
	}
	s.publish(r, kind, it.OwnerID)
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleItemArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemRef(w, r)
	if !ok {
		return
	}
	if _, ok := s.visibleItem(w, r, id); !ok {
		return
	}
	it, err := s.st.Archive(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r, hub.KindDelete, it.OwnerID)
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleTimerList(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemRef(w, r)
	if !ok {
		return
	}
	if _, ok := s.visibleItem(w, r, id); !ok {
		return
	}
	timers, err := s.st.ListTimers(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timers": timers})
}

type timerRequest struct {
	Start string `json:"start,omitempty"`
	Stop  string `json:"stop,omitempty"`
}

func (s *Server) handleTimerStart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemRef(w, r)
	if !ok {
		return
	}
	it, ok := s.visibleItem(w, r, id)
	if !ok {
		return
	}
	var req timerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_request", "", "invalid json")
		return
	}
	start := time.Now()
	if req.Start != "" {
		t, err := parseInstant(req.Start)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "validation", "start", "is not a valid instant")
			return
		}
		start = t
	}
	tm, err := s.st.StartTimer(r.Context(), id, start)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r, hub.KindStart, it.OwnerID)
	writeJSON(w, http.StatusCreated, tm)
}

// handleTimerUpdate stops a running timer when only a stop instant is
// supplied, and revises both bounds when a start is present.
func (s *Server) handleTimerUpdate(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemRef(w, r)
	if !ok {
		return
	}
	it, ok := s.visibleItem(w, r, itemID)
	if !ok {
		return
	}
	timerID, err := parseRef(r.PathValue("timerId"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_reference", "timerId", "must be an integer")
		return
	}
	if timerID <= 0 {
		s.writeError(w, store.NotFoundError{Kind: "timer", ID: timerID})
		return
	}

	var req timerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_request", "", "invalid json")
		return
	}

	existing, err := s.st.GetTimer(r.Context(), timerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if existing.ItemID != itemID {
		s.writeError(w, store.NotFoundError{Kind: "timer", ID: timerID})
		return
	}

	var tm model.Timer
	kind := hub.KindStop
	switch {
	case req.Start == "" && req.Stop != "":
		stop, perr := parseInstant(req.Stop)
		if perr != nil {
			writeJSONError(w, http.StatusBadRequest, "validation", "stop", "is not a valid instant")
			return
		}
		tm, err = s.st.StopTimer(r.Context(), timerID, stop)
	case req.Start != "":
		start, perr := parseInstant(req.Start)
		if perr != nil {
			writeJSONError(w, http.StatusBadRequest, "validation", "start", "is not a valid instant")
			return
		}
		var stop *time.Time
		if req.Stop != "" {
			v, perr := parseInstant(req.Stop)
			if perr != nil {
				writeJSONError(w, http.StatusBadRequest, "validation", "stop", "is not a valid instant")
				return
			}
			stop = &v
		}
		kind = hub.KindUpdate
		tm, err = s.st.UpdateTimer(r.Context(), timerID, start, stop)
	default:
		tm, err = s.st.StopTimer(r.Context(), timerID, time.Now())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.publish(r, kind, it.OwnerID)
	writeJSON(w, http.StatusOK, tm)
}

// publish recomputes the affected scope's snapshot and fans it out.
// REST mutations go through the same hub as websocket sessions, so a
// curl-driven change shows up live in every open client.
func (s *Server) publish(r *http.Request, kind hub.Kind, owner *int64) {
	items, err := view.Build(r.Context(), s.st, owner, time.Now())
	if err != nil {
		return
	}
	s.hub.Publish(hub.ScopeFor(owner), kind, items)
}

func (s *Server) itemRef(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseRef(r.PathValue("itemId"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_reference", "itemId", "must be an integer")
		return 0, false
	}
	// Well-formed but impossible ids (zero, negative) are unknown
	// references, not malformed ones.
	if id <= 0 {
		s.writeError(w, store.NotFoundError{Kind: "item", ID: id})
		return 0, false
	}
	return id, true
}

func parseRef(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	// Accept instants without an offset, interpreted as UTC.
	return time.Parse("2006-01-02T15:04:05", raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, kind, field, msg string) {
	writeJSON(w, status, map[string]any{"error": errorBody{Kind: kind, Field: field, Message: msg}})
}

// errorBodyFor maps core errors onto the transport taxonomy: validation
// and interval problems are 400 with field-level detail, unknown ids
// are 404, anything else is an infrastructure failure.
func errorBodyFor(err error) (int, errorBody) {
	var ve store.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorBody{Kind: "validation", Field: ve.Field, Message: ve.Msg}
	}
	var ie *interval.Error
	if errors.As(err, &ie) {
		return http.StatusBadRequest, errorBody{Kind: "invalid_interval", Field: ie.Field, Message: ie.Error()}
	}
	var nf store.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound, errorBody{Kind: "not_found", Message: nf.Error()}
	}
	return http.StatusInternalServerError, errorBody{Kind: "internal", Message: err.Error()}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := errorBodyFor(err)
	writeJSON(w, status, map[string]any{"error": body})
}
