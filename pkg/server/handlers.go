package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"mercator-hq/gatekeeper/pkg/gate"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// EngineFailureHeader names the failed pipeline stage when a decision
// fell back to its fail-safe. The body is still a valid gate.Response.
const EngineFailureHeader = "X-Gatekeeper-Engine-Failure"

type api struct {
	deps   Dependencies
	logger *slog.Logger
}

func (a *api) decide(w http.ResponseWriter, r *http.Request) {
	var req gate.Request
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := logging.WithSessionID(r.Context(), req.SessionID)
	ctx = logging.WithTurn(ctx, req.Turn)

	resp, err := a.deps.Decider.Decide(ctx, req)
	if err != nil {
		var engErr *gate.EngineError
		stage := "unknown"
		if errors.As(err, &engErr) {
			stage = engErr.Stage
		}
		w.Header().Set(EngineFailureHeader, stage)
		a.logger.ErrorContext(ctx, "decision fell back to fail-safe", "stage", stage, "error", err)
	}
	if resp == nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "no decision produced")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) outcome(w http.ResponseWriter, r *http.Request) {
	var rep gate.OutcomeReport
	if !decodeBody(w, r, &rep) {
		return
	}
	ctx := logging.WithSessionID(r.Context(), rep.SessionID)
	ctx = logging.WithTurn(ctx, rep.Turn)

	res, err := a.deps.Decider.RecordOutcome(ctx, rep)
	switch {
	case errors.Is(err, gate.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case err != nil:
		a.logger.ErrorContext(ctx, "recording outcome failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "recording outcome failed")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	if a.deps.Sessions == nil {
		writeError(w, r, http.StatusNotImplemented, CodeNotImplemented, "session inspection is not configured")
		return
	}
	id := r.PathValue("id")
	s, ok := a.deps.Sessions.Get(r.Context(), id)
	if !ok {
		writeError(w, r, http.StatusNotFound, CodeNotFound, fmt.Sprintf("session %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) circuits(w http.ResponseWriter, r *http.Request) {
	if a.deps.Circuits == nil {
		writeError(w, r, http.StatusNotImplemented, CodeNotImplemented, "circuit inspection is not configured")
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Circuits.All(r.Context()))
}

func (a *api) circuit(w http.ResponseWriter, r *http.Request) {
	if a.deps.Circuits == nil {
		writeError(w, r, http.StatusNotImplemented, CodeNotImplemented, "circuit inspection is not configured")
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Circuits.Status(r.Context(), r.PathValue("name")))
}

func (a *api) debt(w http.ResponseWriter, r *http.Request) {
	if a.deps.Debt == nil {
		writeError(w, r, http.StatusNotImplemented, CodeNotImplemented, "debt inspection is not configured")
		return
	}
	all := false
	if v := r.URL.Query().Get("all"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "all must be a boolean")
			return
		}
		all = b
	}
	if all {
		writeJSON(w, http.StatusOK, a.deps.Debt.All(r.Context()))
		return
	}
	records, err := a.deps.Debt.Outstanding(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "listing debt failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "listing debt failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// decodeBody reads a single JSON document into v, answering 400 or 413
// itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, r, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "request body is empty")
		default:
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON: "+err.Error())
		}
		return false
	}
	if dec.More() {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "request body must hold a single JSON document")
		return false
	}
	return true
}
