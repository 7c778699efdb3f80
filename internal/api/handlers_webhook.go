package api

import (
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// maxWebhookBody bounds inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// handleWebhook handles POST /api/webhooks/:storeID - Inbound store push.
// The event type and signature ride in headers; the raw body is verified
// before any JSON parsing so signature checks cover exact bytes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	storeID := vars["storeID"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}
	if len(body) > maxWebhookBody {
		respondError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidInput, "Payload too large", nil)
		return
	}

	eventType := r.Header.Get("X-Event-Type")
	if eventType == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "X-Event-Type header required", nil)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	result, err := s.webhookService.HandleInbound(r.Context(), storeID, eventType, signature, body)
	if err != nil {
		log.Printf("Webhook intake error for store %s: %v", storeID, err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleDeadDeliveries handles GET /api/maintenance/deliveries/dead -
// List outbound deliveries retired after exhausting their retries.
func (s *Server) handleDeadDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 500", nil)
			return
		}
		limit = parsed
	}

	items, err := s.deadLetters.ListDead(r.Context(), limit)
	if err != nil {
		log.Printf("ListDead error: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// handleReclaim handles POST /api/maintenance/reclaim - Run the reclamation
// sweep. Safe to invoke repeatedly; a sweep that finds nothing reports zeros.
func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	report, err := s.reclaimService.Run(r.Context())
	if err != nil {
		log.Printf("Reclaim sweep error: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}
