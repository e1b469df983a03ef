package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/carepulse/carepulse/internal/service"
	"github.com/carepulse/carepulse/model"
)

// maxEventBytes bounds the accepted event payload size.
const maxEventBytes = 1 << 20

// handleEvent is the event intake endpoint: the event is evaluated against
// every enabled rule declaring a trigger of its type. An event matching no
// rule is a routine 200, never an error.
func handleEvent(svc *service.ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev service.Event
		if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBytes)).Decode(&ev); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if ev.UserID == "" {
			ev.UserID = SubjectFrom(r.Context())
		}

		outcome, err := svc.HandleEvent(r.Context(), ev)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, outcome)
	}
}
