package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"

	"deepagg/internal/api/dto"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug("write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, dto.ErrorResponse{Error: message})
}
