package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carepulse/carepulse/internal/service"
	"github.com/carepulse/carepulse/model"
)

// handleListRules returns all loaded rule documents ordered by ID.
func handleListRules(svc *service.ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rules := svc.Rules()
		WriteJSON(w, http.StatusOK, map[string]any{
			"rules": rules,
			"count": len(rules),
		})
	}
}

// handleExecuteRule runs a single rule on demand. The body is an optional
// event payload; an empty body executes the rule as a manual trigger with
// no data. Disabled rules execute and report the disabled status.
func handleExecuteRule(svc *service.ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID := chi.URLParam(r, "ruleId")

		var ev service.Event
		err := json.NewDecoder(io.LimitReader(r.Body, maxEventBytes)).Decode(&ev)
		if err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if ev.UserID == "" {
			ev.UserID = SubjectFrom(r.Context())
		}
		if ev.Source == "" {
			ev.Source = "manual"
		}

		result, err := svc.ExecuteRule(r.Context(), ruleID, ev)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
