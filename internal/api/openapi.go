package api

import (
	"fmt"
	"net/http"

	"github.com/mattjoyce/tsmon/internal/dispatch"
)

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.dispatcher.Slots()))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the gateway. The
// configured services are listed under x-services so a client can see the
// handles without a discovery round-trip.
func buildOpenAPIDoc(slots []dispatch.SlotInfo) map[string]any {
	services := make([]map[string]any, 0, len(slots))
	for _, sl := range slots {
		services = append(services, map[string]any{
			"name":   sl.Name,
			"handle": uint32(sl.Handle),
		})
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "tsmon gateway",
			"version": fmt.Sprintf("%#x", uint32(dispatch.Version)),
		},
		"paths": map[string]any{
			"/smc": map[string]any{
				"post": operation("smc", "Trap into the monitor", "smc:rw", map[string]any{
					"type":     "object",
					"required": []string{"handle"},
					"properties": map[string]any{
						"handle":     map[string]any{"type": "integer", "format": "uint32"},
						"addr":       map[string]any{"type": "integer", "format": "uint64"},
						"len":        map[string]any{"type": "integer", "format": "uint64"},
						"timeout_us": map[string]any{"type": "integer", "format": "uint32"},
					},
				}),
			},
			"/mem/{addr}": map[string]any{
				"get": operation("mem_read", "Read non-secure memory", "mem:ro", nil),
				"put": operation("mem_write", "Write non-secure memory", "mem:rw", nil),
			},
			"/services": map[string]any{
				"get": operation("services", "List service slots", "monitor:ro", nil),
			},
			"/calls": map[string]any{
				"get": operation("calls", "List recent calls", "monitor:ro", nil),
			},
			"/events": map[string]any{
				"get": operation("events", "Stream monitor events (SSE)", "monitor:ro", nil),
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
		"x-services": services,
	}
}

func operation(id, summary, scope string, body map[string]any) map[string]any {
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"x-scope":     scope,
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
			"400": map[string]any{"description": "Bad request"},
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
	if body != nil {
		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{"schema": body},
			},
		}
	}
	return op
}
