package handlers

import (
	"errors"
	"net/http"
	"time"

	"parking/internal/audit"
	"parking/internal/store"

	"github.com/rs/zerolog/log"
)

const verifyBatch = 1000

func parseTime(w http.ResponseWriter, field, raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_time", field+" must be RFC3339")
		return nil, false
	}
	return &parsed, true
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, ok := parseTime(w, "from", query.Get("from"))
	if !ok {
		return
	}
	to, ok := parseTime(w, "to", query.Get("to"))
	if !ok {
		return
	}
	limit, offset := page(r)
	rows, err := h.audit.Query(r.Context(), store.AuditFilter{
		EntityType:  query.Get("entity_type"),
		EntityID:    query.Get("entity_id"),
		PerformedBy: query.Get("performed_by"),
		From:        from,
		To:          to,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		log.Error().Err(err).Msg("audit query failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// VerifyAudit walks the whole flushed chain and reports the first record
// whose hash or link does not check out.
func (h *Handler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	var (
		verified int64
		next     int64 = 1
		prevHash string
	)
	for {
		rows, err := h.audit.Chain(r.Context(), next, verifyBatch)
		if err != nil {
			log.Error().Err(err).Msg("audit chain read failed")
			respondError(w, http.StatusInternalServerError, "internal_error", "unable to read audit chain")
			return
		}
		if len(rows) == 0 {
			break
		}
		if rows[0].Seq != next {
			respondJSON(w, http.StatusOK, map[string]any{
				"valid":     false,
				"verified":  verified,
				"broken_at": next,
				"reason":    "missing records",
			})
			return
		}
		badSeq, err := audit.VerifyChain(rows, prevHash)
		if err != nil {
			if !errors.Is(err, audit.ErrChainBroken) {
				respondError(w, http.StatusInternalServerError, "internal_error", "unable to verify audit chain")
				return
			}
			log.Warn().Err(err).Int64("seq", badSeq).Msg("audit chain verification failed")
			respondJSON(w, http.StatusOK, map[string]any{
				"valid":     false,
				"verified":  verified,
				"broken_at": badSeq,
				"reason":    err.Error(),
			})
			return
		}
		last := rows[len(rows)-1]
		verified += int64(len(rows))
		prevHash = last.Hash
		next = last.Seq + 1
		if len(rows) < verifyBatch {
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"verified": verified,
	})
}
