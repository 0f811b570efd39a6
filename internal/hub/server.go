package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.alis.build/alog"

	"github.com/lijuchacko/sheetsync/internal/auth"
	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/store"
	"github.com/lijuchacko/sheetsync/internal/xlsx"
)

// Options configures the HTTP surface of the hub.
type Options struct {
	// AccessKeyHash is a bcrypt hash; empty disables the key check.
	AccessKeyHash string
	// DefaultBounds sizes sheets created on first join.
	DefaultBounds cell.Bounds
}

type Server struct {
	hub      *Hub
	store    store.Store
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(h *Hub, st store.Store, opts Options) *Server {
	return &Server{
		hub:   h,
		store: st,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/sheets/export", s.handleExport)
	return mux
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if err := auth.Verify(s.opts.AccessKeyHash, r.Header.Get(auth.Header)); err != nil {
		http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		return false
	}
	return true
}

// serveWs handles /ws?sheet=ID&user=NAME[&rows=N&cols=N&title=T]. The sheet
// is created with the given or default size if it does not exist yet.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	q := r.URL.Query()
	sheetID := q.Get("sheet")
	if sheetID == "" {
		http.Error(w, "sheet required", http.StatusBadRequest)
		return
	}
	user := q.Get("user")
	bounds := s.opts.DefaultBounds
	if v := q.Get("rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "bad rows", http.StatusBadRequest)
			return
		}
		bounds.Rows = n
	}
	if v := q.Get("cols"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "bad cols", http.StatusBadRequest)
			return
		}
		bounds.Cols = n
	}
	title := q.Get("title")
	if title == "" {
		title = sheetID
	}

	ctx := context.WithoutCancel(r.Context())
	now := time.Now().UTC()
	meta, err := s.store.EnsureSheet(ctx, store.SheetMeta{
		ID:        sheetID,
		Title:     title,
		Rows:      bounds.Rows,
		Cols:      bounds.Cols,
		Owner:     user,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cell.ErrInvalidBounds) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		alog.Warnf(ctx, "hub: upgrade: %v", err)
		return
	}
	if !newClient(s.hub, conn, meta, user).join(ctx) {
		conn.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleExport serves /api/sheets/export?id=ID as an xlsx download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	id := r.URL.Query().Get("id")
	meta, err := s.store.GetSheet(r.Context(), id)
	if errors.Is(err, store.ErrSheetNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rows, err := s.store.FetchAll(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", xlsx.SheetName(meta.Title)+".xlsx"))
	if err := xlsx.Export(w, meta, rows); err != nil {
		alog.Errorf(r.Context(), "hub: export %s: %v", id, err)
	}
}
