package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/journal"
	"github.com/mattjoyce/tsmon/internal/memory"
)

const maxSMCBody = 4096

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Services:      s.dispatcher.Table().Len(),
		MaxTimeoutUS:  s.dispatcher.MaxTimeout().Microseconds(),
	})
}

// handleSMC handles POST /smc: one trap into the monitor.
func (s *Server) handleSMC(w http.ResponseWriter, r *http.Request) {
	var req SMCRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSMCBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	call := dispatch.Call{
		Handle:    dispatch.Handle(req.Handle),
		Addr:      req.Addr,
		Len:       req.Len,
		TimeoutUS: req.TimeoutUS,
	}

	s.callMu.Lock()
	started := time.Now()
	res := s.dispatcher.Call(call)
	elapsed := time.Since(started)
	s.callMu.Unlock()

	resp := SMCResponse{
		Result:     uint64(res),
		Low:        res.Low(),
		Status:     statusName(call.Handle, res),
		Flags:      uint32(res.Flags()),
		DurationUS: elapsed.Microseconds(),
	}

	service := s.serviceName(call)
	if s.journal != nil {
		id, err := s.journal.Record(r.Context(), journal.Entry{
			Handle:    req.Handle,
			Service:   service,
			Class:     call.Handle.Class(),
			Addr:      req.Addr,
			Len:       req.Len,
			TimeoutUS: req.TimeoutUS,
			Status:    res.Low(),
			Flags:     uint32(res.Flags()),
			StartedAt: started,
			Duration:  elapsed,
		})
		if err != nil {
			s.logger.Warn("failed to journal call", "handle", call.Handle, "error", err)
		} else {
			resp.CallID = id
		}
	}

	s.events.Publish("smc.call", CallEvent{
		SMCResponse: resp,
		Handle:      req.Handle,
		Service:     service,
	})
	respondJSON(w, http.StatusOK, resp)
}

// serviceName names the slot a call targeted, if any.
func (s *Server) serviceName(c dispatch.Call) string {
	h := c.Handle
	switch {
	case h == dispatch.HandleQuery:
		if c.Addr > math.MaxUint32 {
			return ""
		}
		h = dispatch.Handle(c.Addr)
	case h.Reserved():
		return ""
	}
	name, _ := s.dispatcher.Table().Name(h)
	return name
}

func statusName(h dispatch.Handle, res dispatch.Result) string {
	switch {
	case h == dispatch.HandleVersion:
		return "version"
	case h == dispatch.HandleDiscovery && res.Low() > 0:
		return "found"
	default:
		return res.Status().String()
	}
}

// handleMemRead handles GET /mem/{addr}?len=N.
func (s *Server) handleMemRead(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("len"))
	if err != nil || n <= 0 {
		s.writeError(w, http.StatusBadRequest, "len must be a positive integer")
		return
	}
	if n > s.config.MaxMemIO {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("len exceeds %d bytes", s.config.MaxMemIO))
		return
	}

	buf := make([]byte, n)
	if err := s.memory.Read(addr, buf); err != nil {
		s.writeMemError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MemResponse{Addr: addr, Len: n, Data: buf})
}

// handleMemWrite handles PUT /mem/{addr} with a raw body.
func (s *Server) handleMemWrite(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.config.MaxMemIO)+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty body")
		return
	}
	if len(body) > s.config.MaxMemIO {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", s.config.MaxMemIO))
		return
	}

	if err := s.memory.Write(addr, body); err != nil {
		s.writeMemError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MemResponse{Addr: addr, Len: len(body)})
}

func (s *Server) writeMemError(w http.ResponseWriter, err error) {
	if errors.Is(err, memory.ErrOutOfRange) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("memory access failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "memory access failed")
}

func parseAddr(v string) (uint64, error) {
	addr, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", v)
	}
	return addr, nil
}

// handleServices handles GET /services.
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	slots := s.dispatcher.Slots()
	resp := ServicesResponse{
		Services:      make([]ServiceStatus, 0, len(slots)),
		CallerPending: s.dispatcher.CallerPending(),
	}
	for _, sl := range slots {
		resp.Services = append(resp.Services, ServiceStatus{
			Handle:     uint32(sl.Handle),
			HandleHex:  sl.Handle.String(),
			Name:       sl.Name,
			Priority:   sl.Priority,
			State:      sl.State,
			LastStatus: sl.LastStatus,
			Pending:    sl.Pending,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListCalls handles GET /calls?limit=N.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, "call journal disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	calls, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list calls", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	if calls == nil {
		calls = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, calls)
}

// handleGetCall handles GET /calls/{callID}.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, "call journal disabled")
		return
	}
	call, err := s.journal.Get(r.Context(), chi.URLParam(r, "callID"))
	if errors.Is(err, journal.ErrCallNotFound) {
		s.writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get call", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get call")
		return
	}
	respondJSON(w, http.StatusOK, call)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
