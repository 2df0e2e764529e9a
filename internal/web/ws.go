package web

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tally/internal/hub"
	"tally/internal/model"
	"tally/internal/session"
	"tally/internal/store"
	"tally/internal/view"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		// Basic same-origin check; the server binds to localhost by default.
		host := strings.TrimSpace(r.Host)
		return strings.Contains(origin, "://"+host)
	},
}

// Client -> server action frames.
type wsActionFrame struct {
	Op      string `json:"op"`
	ItemID  int64  `json:"itemId,omitempty"`
	TimerID int64  `json:"timerId,omitempty"`
	Text    string `json:"text,omitempty"`
	Status  string `json:"status,omitempty"`
	At      string `json:"at,omitempty"`
}

// Server -> client frames: either a view snapshot or an inline error.
type wsViewFrame struct {
	Type  string          `json:"type"`
	Kind  hub.Kind        `json:"kind"`
	Items []view.ItemView `json:"items"`
}

type wsErrorFrame struct {
	Type  string    `json:"type"`
	Error errorBody `json:"error"`
}

// handleWS runs one session controller for the lifetime of the socket.
// Snapshots (initial view, own mutations, broadcasts from other
// sessions) are pushed as JSON frames; failed actions surface as error
// frames without dropping the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	viewer := s.viewerFromRequest(r)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeFrame := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("ws write: %v", err)
		}
	}

	ctrl := session.New(session.Config{
		Store:  s.st,
		Hub:    s.hub,
		Viewer: viewer,
		Render: func(kind hub.Kind, items []view.ItemView) {
			writeFrame(wsViewFrame{Type: "view", Kind: kind, Items: items})
		},
		Error: func(err error) {
			_, body := errorBodyFor(err)
			writeFrame(wsErrorFrame{Type: "error", Error: body})
		},
	})
	go ctrl.Run(r.Context())
	defer func() {
		ctrl.Terminate()
		<-ctrl.Done()
	}()

	for {
		var frame wsActionFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		a, perr := frame.toAction()
		if perr != nil {
			_, body := errorBodyFor(perr)
			writeFrame(wsErrorFrame{Type: "error", Error: body})
			continue
		}
		if err := ctrl.Do(a); err != nil {
			return
		}
	}
}

func (f wsActionFrame) toAction() (session.Action, error) {
	a := session.Action{
		Op:      session.Op(strings.TrimSpace(strings.ToLower(f.Op))),
		ItemID:  f.ItemID,
		TimerID: f.TimerID,
		Text:    f.Text,
		Status:  model.Status(f.Status),
	}
	if strings.TrimSpace(f.At) != "" {
		t, err := parseInstant(f.At)
		if err != nil {
			return session.Action{}, store.ValidationError{Field: "at", Msg: "is not a valid instant"}
		}
		a.At = t
	}
	return a, nil
}
