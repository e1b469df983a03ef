package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carepulse/carepulse/internal/service"
	"github.com/carepulse/carepulse/internal/store"
)

// handleGetExecution returns one execution record with its audit trail.
func handleGetExecution(svc *service.ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		executionID := chi.URLParam(r, "executionId")

		rec, audit, err := svc.GetExecution(r.Context(), executionID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"execution": rec,
			"audit":     audit,
		})
	}
}

// handleListExecutions returns execution records matching the query
// filters, newest first.
func handleListExecutions(svc *service.ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := store.ExecutionFilters{
			RuleID:    q.Get("rule_id"),
			PatientID: q.Get("patient_id"),
			Status:    q.Get("status"),
			Limit:     queryInt(q.Get("limit"), 50),
			Offset:    queryInt(q.Get("offset"), 0),
		}

		recs, err := svc.ListExecutions(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"executions": recs,
			"count":      len(recs),
		})
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
