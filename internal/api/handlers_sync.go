package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/types"
)

// handleCreateTask handles POST /api/sync/tasks - Start a sync task for one store
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var req struct {
		StoreID string             `json:"storeId"`
		Mode    types.SyncMode     `json:"mode"`
		Kinds   []types.EntityKind `json:"kinds,omitempty"`
		Force   bool               `json:"force,omitempty"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.StoreID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "storeId is required", nil)
		return
	}

	task, err := s.taskService.CreateTask(r.Context(), req.StoreID, req.Mode, req.Kinds, req.Force)
	if err != nil {
		log.Printf("CreateTask error: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"task":      task,
		"statusUrl": fmt.Sprintf("/api/sync/tasks/%s", task.ID),
	})
}

// handleGetTask handles GET /api/sync/tasks/:id - Task status and progress snapshot
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	task, err := s.taskService.GetTask(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// handleSyncSlot handles POST /api/sync/slots/:slot - Trigger the store
// occupying a 1-based scheduler slot. A slot beyond the eligible store list
// is a successful no-op so fixed cron fan-outs never alarm on gaps.
func (s *Server) handleSyncSlot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	slot, err := strconv.Atoi(vars["slot"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Slot must be an integer", nil)
		return
	}

	task, err := s.slotService.SyncSlot(r.Context(), slot)
	if err != nil {
		if catErr := apperrors.Categorize(err); catErr != nil && catErr.Category == apperrors.CategoryNotFound {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"scheduled": false,
				"slot":      slot,
			})
			return
		}
		log.Printf("SyncSlot error: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scheduled": true,
		"slot":      slot,
		"task":      task,
	})
}

// handleRunBatch handles POST /api/sync/batches - Create and run a batch
// over all eligible stores
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.batchService.CreateBatch(r.Context())
	if err != nil {
		log.Printf("CreateBatch error: %v", err)
		respondServiceError(w, err)
		return
	}

	view, err = s.batchService.RunBatch(r.Context(), view.Batch.ID)
	if err != nil {
		log.Printf("RunBatch error: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleGetBatch handles GET /api/sync/batches/:id - Batch status with
// per-site results
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	view, err := s.batchService.GetBatch(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}
