package api

import (
	"log"
	"net/http"
	"time"

	"github.com/storemirror/internal/service"
)

// handleSalesReport handles GET /api/reports/sales - Bucketed, normalized
// sales report. Query params: from, to (RFC3339), bucket (day|week|month).
func (s *Server) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := time.Parse(time.RFC3339, query.Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must be an RFC3339 timestamp", nil)
		return
	}

	to, err := time.Parse(time.RFC3339, query.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "to must be an RFC3339 timestamp", nil)
		return
	}

	bucket := service.ReportBucket(query.Get("bucket"))
	if bucket == "" {
		bucket = service.BucketDay
	}

	report, err := s.reportService.SalesReport(r.Context(), from, to, bucket)
	if err != nil {
		log.Printf("SalesReport error: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}
