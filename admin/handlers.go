package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/gtidstate/state"
	"github.com/maxpert/gtidstate/store"
)

// AdminHandlers serves the read-only status API over the replication state.
type AdminHandlers struct {
	binlog  *state.BinlogState
	slave   *state.SlaveState
	waiting *state.Waiting
	store   *store.Store
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(bs *state.BinlogState, ss *state.SlaveState, w *state.Waiting, st *store.Store) *AdminHandlers {
	return &AdminHandlers{
		binlog:  bs,
		slave:   ss,
		waiting: w,
		store:   st,
	}
}

func (h *AdminHandlers) handleBinlogPos(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"gtid_binlog_pos":   h.binlog.Pos(),
		"gtid_binlog_state": h.binlog.StateString(),
		"entries":           h.binlog.Count(),
	})
}

func (h *AdminHandlers) handleSlavePos(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"gtid_slave_pos": h.slave.String(nil),
		"entries":        h.slave.Count(),
		"pos_tables":     h.slave.PosTables(),
	})
}

func (h *AdminHandlers) handleDomain(w http.ResponseWriter, r *http.Request) {
	domainID, err := parseDomainID(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	g, ok := h.slave.DomainToGTID(domainID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("no position for domain %d", domainID))
		return
	}

	owner, ownerCount := h.slave.DomainOwner(domainID)
	writeJSONResponse(w, map[string]interface{}{
		"gtid":           g.String(),
		"highest_seq_no": h.slave.HighestSeqNo(domainID),
		"owner":          owner,
		"owner_count":    ownerCount,
	})
}

func (h *AdminHandlers) handleWaiters(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"queue_depths":    h.waiting.QueueDepths(),
		"blocked_waiters": h.waiting.BlockedWaiters(),
	})
}

func (h *AdminHandlers) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.RowCount()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"position_rows": count,
	})
}

// parseDomainID extracts the domain_id query parameter
func parseDomainID(r *http.Request) (uint32, error) {
	raw := r.URL.Query().Get("domain_id")
	if raw == "" {
		return 0, fmt.Errorf("domain_id parameter is required")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid domain_id: %w", err)
	}
	return uint32(id), nil
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
