// Package collab keeps a local sheet in sync with a shared backend.
//
// Local edits are applied to the sheet immediately and queued for the
// backend; remote edits are applied when their timestamp is strictly newer
// than the cell's. Both paths enter the sheet under the session lock, so a
// sheet sees one writer at a time.
package collab

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.alis.build/alog"
	"golang.org/x/sync/errgroup"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/sheet"
	"github.com/lijuchacko/sheetsync/internal/store"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type pendingEdit struct {
	seq uint64
	row store.CellRow
}

// Session is the sync coordinator of one sheet.
type Session struct {
	sheet      *sheet.Sheet
	transport  Transport
	user       string
	now        func() time.Time
	onState    func(State)
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	state    State
	lastErr  error
	pending  []pendingEdit
	nextSeq  uint64
	selected cell.Address
	peers    map[string]Presence

	wake  chan struct{}
	moved chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Session)

// WithUser names the editor stamped on local edits.
func WithUser(user string) Option {
	return func(s *Session) { s.user = user }
}

// WithClock sets the time source for local edit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithStateHook is called, outside the session lock, on every state change.
func WithStateHook(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(lo, hi time.Duration) Option {
	return func(s *Session) { s.minBackoff, s.maxBackoff = lo, hi }
}

func New(sh *sheet.Sheet, tr Transport, opts ...Option) *Session {
	s := &Session{
		sheet:      sh,
		transport:  tr,
		now:        time.Now,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		wake:       make(chan struct{}, 1),
		moved:      make(chan struct{}, 1),
		peers:      make(map[string]Presence),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Sheet() *sheet.Sheet { return s.sheet }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError is the failure that last moved the session out of Connected.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Pending is the number of local edits not yet acknowledged.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) GetDisplayValue(addr cell.Address) string { return s.sheet.DisplayValue(addr) }

func (s *Session) GetRawInput(addr cell.Address) string { return s.sheet.RawInput(addr) }

// SelectedCellChanged records the selection, shares it with the room when
// the connection supports presence, and returns the text for the edit box.
func (s *Session) SelectedCellChanged(addr cell.Address) string {
	s.mu.Lock()
	s.selected = addr
	s.mu.Unlock()
	select {
	case s.moved <- struct{}{}:
	default:
	}
	return s.sheet.RawInput(addr)
}

// Collaborators lists the other clients' selected cells, ordered by user.
// It is empty while disconnected.
func (s *Session) Collaborators() []Presence {
	s.mu.Lock()
	out := make([]Presence, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Client < out[j].Client
	})
	return out
}

func (s *Session) notePeer(p Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Left {
		delete(s.peers, p.Client)
		return
	}
	s.peers[p.Client] = p
}

func (s *Session) clearPeers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.peers)
}

func (s *Session) Selected() cell.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SubmitEdit applies text to addr locally and queues it for the backend.
// The edit is stamped strictly later than the cell's current timestamp. A
// *cell.RangeError means nothing happened; a *depgraph.CycleError means the
// edit was stored and queued but its formula was rejected.
func (s *Session) SubmitEdit(addr cell.Address, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now().UTC()
	if cur := s.sheet.Get(addr).UpdatedAt; !at.After(cur) {
		at = cur.Add(time.Nanosecond)
	}
	err := s.sheet.Apply(sheet.Edit{Addr: addr, Raw: text, At: at, User: s.user})
	var rangeErr *cell.RangeError
	if errors.As(err, &rangeErr) {
		return err
	}
	s.nextSeq++
	s.pending = append(s.pending, pendingEdit{
		seq: s.nextSeq,
		row: store.NewCellRow(s.sheet.ID(), addr, text, s.sheet.DisplayValue(addr), at, s.user),
	})
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return err
}

// OnRemoteEdit applies an edit made elsewhere. It reports false when the
// edit was not strictly newer than the local cell and was dropped.
func (s *Session) OnRemoteEdit(addr cell.Address, raw string, ts time.Time) bool {
	row := store.NewCellRow(s.sheet.ID(), addr, raw, "", ts, "")
	return s.applyRemote(context.Background(), []store.CellRow{row}) == 1
}

// applyRemote applies every row newer than the local cell in one
// recalculation and returns how many were applied.
func (s *Session) applyRemote(ctx context.Context, rows []store.CellRow) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	bounds := s.sheet.Bounds()
	edits := make([]sheet.Edit, 0, len(rows))
	for _, r := range rows {
		addr := r.Addr()
		if r.SheetID != s.sheet.ID() {
			continue
		}
		if !bounds.Contains(addr) {
			alog.Warnf(ctx, "collab: sheet %s: remote edit %s outside %dx%d", r.SheetID, addr, bounds.Rows, bounds.Cols)
			continue
		}
		if cur := s.sheet.Get(addr); !r.UpdatedAt.After(cur.UpdatedAt) {
			alog.Debugf(ctx, "collab: sheet %s: drop stale edit %s at %s (local %s)",
				r.SheetID, addr, r.UpdatedAt.Format(time.RFC3339Nano), cur.UpdatedAt.Format(time.RFC3339Nano))
			continue
		}
		edits = append(edits, sheet.Edit{Addr: addr, Raw: r.Raw(), At: r.UpdatedAt, User: r.User})
	}
	if len(edits) == 0 {
		return 0
	}
	if err := s.sheet.Apply(edits...); err != nil {
		alog.Debugf(ctx, "collab: sheet %s: remote edits: %v", s.sheet.ID(), err)
	}
	return len(edits)
}

func (s *Session) setState(st State, cause error) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	if cause != nil {
		s.lastErr = cause
	}
	hook := s.onState
	s.mu.Unlock()
	if changed && hook != nil {
		hook(st)
	}
}

// Start runs the session in the background until Close.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = s.Run(ctx)
	}()
}

// Close stops a started session. Unacknowledged edits are abandoned.
func (s *Session) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

// Run connects, reconciles and then streams edits both ways, reconnecting
// with jittered exponential backoff until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(Disconnected, nil)
	attempt := 0
	for {
		s.setState(Connecting, nil)
		err := s.serve(ctx, func() { attempt = 0 })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(Connecting, err)
		delay := backoff(s.minBackoff, s.maxBackoff, attempt)
		attempt++
		alog.Warnf(ctx, "collab: sheet %s: %v; retrying in %s", s.sheet.ID(), err, delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// backoff doubles lo per attempt up to hi and picks a delay in [d/2, d).
func backoff(lo, hi time.Duration, attempt int) time.Duration {
	d := lo
	for i := 0; i < attempt && d < hi; i++ {
		d *= 2
	}
	if d > hi {
		d = hi
	}
	if d < 2 {
		return d
	}
	return d/2 + rand.N(d/2)
}

// serve runs one connection: replay the queue, reconcile with a full fetch,
// then persist and receive until either side fails.
func (s *Session) serve(ctx context.Context, connected func()) error {
	conn, err := s.transport.Connect(ctx, s.sheet.ID())
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	defer conn.Close()

	if meta := conn.Meta(); meta.Rows != 0 && meta.Bounds() != s.sheet.Bounds() {
		alog.Warnf(ctx, "collab: sheet %s: backend is %dx%d, local is %dx%d",
			s.sheet.ID(), meta.Rows, meta.Cols, s.sheet.Bounds().Rows, s.sheet.Bounds().Cols)
	}

	covered := make(map[cell.Address]bool)
	s.mu.Lock()
	for _, p := range s.pending {
		covered[p.row.Addr()] = true
	}
	s.mu.Unlock()
	if err := s.drain(ctx, conn); err != nil {
		return err
	}

	rows, err := conn.FetchAll(ctx)
	if err != nil {
		return &TransportError{Op: "fetch", Err: err}
	}
	fresh := rows[:0]
	for _, r := range rows {
		if !covered[r.Addr()] {
			fresh = append(fresh, r)
		}
	}
	n := s.applyRemote(ctx, fresh)
	alog.Infof(ctx, "collab: sheet %s: connected, replayed %d, reconciled %d of %d rows",
		s.sheet.ID(), len(covered), n, len(rows))

	s.setState(Connected, nil)
	connected()

	defer s.clearPeers()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.persistLoop(gctx, conn) })
	g.Go(func() error { return s.receiveLoop(gctx, conn) })
	if pc, ok := conn.(PresenceConn); ok {
		g.Go(func() error { return s.presenceLoop(gctx, pc) })
	}
	return g.Wait()
}

func (s *Session) head() (pendingEdit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return pendingEdit{}, false
	}
	return s.pending[0], true
}

func (s *Session) ack(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 && s.pending[0].seq == seq {
		s.pending = s.pending[1:]
	}
}

// push upserts the oldest pending edit. When the backend kept a newer row,
// that row is applied locally so both sides converge.
func (s *Session) push(ctx context.Context, conn Conn, p pendingEdit) error {
	got, applied, err := conn.Upsert(ctx, p.row)
	if err != nil {
		return &TransportError{Op: "upsert", Err: err}
	}
	s.ack(p.seq)
	if !applied {
		s.applyRemote(ctx, []store.CellRow{got})
	}
	return nil
}

// drain pushes pending edits in submission order until the queue is empty.
func (s *Session) drain(ctx context.Context, conn Conn) error {
	for {
		p, ok := s.head()
		if !ok {
			return nil
		}
		if err := s.push(ctx, conn, p); err != nil {
			return err
		}
	}
}

func (s *Session) persistLoop(ctx context.Context, conn Conn) error {
	for {
		if err := s.drain(ctx, conn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// presenceLoop announces the selection on connect and after every change,
// and tracks the other clients' positions.
func (s *Session) presenceLoop(ctx context.Context, pc PresenceConn) error {
	updates := pc.Presence()
	share := true
	for {
		if share {
			if err := pc.SharePresence(ctx, s.Selected()); err != nil {
				return &TransportError{Op: "presence", Err: err}
			}
			share = false
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.moved:
			share = true
		case p, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.notePeer(p)
		}
	}
}

func (s *Session) receiveLoop(ctx context.Context, conn Conn) error {
	changes := conn.Changes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-changes:
			if !ok {
				return &TransportError{Op: "receive", Err: ErrConnClosed}
			}
			s.applyRemote(ctx, []store.CellRow{row})
		}
	}
}
