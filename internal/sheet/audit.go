package sheet

import "time"

type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// record must be called with s.mu held.
func (s *Sheet) record(e Edit, action, details string) {
	s.audit = append(s.audit, AuditEntry{
		Timestamp: e.At,
		User:      e.User,
		Action:    action,
		Details:   details,
	})
	if s.auditLimit > 0 && len(s.audit) > s.auditLimit {
		s.audit = append(s.audit[:0:0], s.audit[len(s.audit)-s.auditLimit:]...)
	}
}

// Audit returns the retained audit log, oldest first.
func (s *Sheet) Audit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.audit...)
}
