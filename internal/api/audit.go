package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/access-control-core/internal/audit"
)

const (
	// auditQueueSize bounds operator actions waiting for the audit writer.
	// When it is full new entries are dropped rather than stalling requests.
	auditQueueSize = 256

	auditWriteTimeout = 5 * time.Second
)

// auditLog queues an operator action for the audit trail. The request ID is
// copied into the details so the entry can be matched to the access log.
func (s *Server) auditLog(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}
	if details == nil {
		details = make(map[string]any, 1)
	}
	if id := requestIDFrom(r.Context()); id != "" {
		details["request_id"] = id
	}

	s.enqueueAudit(&audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     audit.SourceAPI,
		Details:    details,
	})
}

// RecordSystemEvent queues an entry raised by the daemon itself, such as a
// broker connection transition, on the same writer as operator actions. It
// never blocks and reports whether the entry was accepted. Entries offered
// before Start or without an audit repository are dropped.
func (s *Server) RecordSystemEvent(entry *audit.AuditLog) bool {
	if s.auditRepo == nil || s.auditCh == nil || entry == nil {
		return false
	}
	if entry.Source == "" {
		entry.Source = audit.SourceSystem
	}
	return s.enqueueAudit(entry)
}

func (s *Server) enqueueAudit(entry *audit.AuditLog) bool {
	select {
	case s.auditCh <- entry:
		return true
	default:
		s.logger.Warn("audit queue full, dropping entry", "action", entry.Action, "entity_id", entry.EntityID)
		return false
	}
}

// drainAuditLog is the single audit writer. SQLite serialises writes anyway,
// so one goroutine keeps request latency independent of disk speed. After
// ctx is cancelled it writes whatever is still queued and returns.
func (s *Server) drainAuditLog(ctx context.Context) {
	done := ctx.Done()
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-done:
			s.flushAuditQueue()
			return
		}
	}
}

// flushAuditQueue writes queued entries until the channel is momentarily empty.
func (s *Server) flushAuditQueue() {
	for n := len(s.auditCh); n > 0; n-- {
		s.writeAudit(<-s.auditCh)
	}
}

func (s *Server) writeAudit(entry *audit.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Error("audit write failed", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

// handleListAuditLogs serves GET /api/v1/audit.
//
// Filters are exact matches on action, entity_type, entity_id and source.
// since (inclusive) and until (exclusive) take RFC3339 times. Paging uses
// limit (default 50, max 200) and offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	since, sinceErr := parseTimeParam(q.Get("since"))
	until, untilErr := parseTimeParam(q.Get("until"))
	if sinceErr != nil || untilErr != nil {
		writeBadRequest(w, "invalid since/until timestamp")
		return
	}

	limit, offset := parsePaging(r)
	result, err := s.auditRepo.List(r.Context(), audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Source:     q.Get("source"),
		Since:      since,
		Until:      until,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.logger.Error("audit list query failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parsePaging reads limit and offset. Unparseable values count as zero and
// the repositories apply their own defaults and bounds.
func parsePaging(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	return atoiOrZero(q.Get("limit")), atoiOrZero(q.Get("offset"))
}

func atoiOrZero(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
