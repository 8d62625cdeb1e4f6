package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type logLevelRequest struct {
	Level string `json:"level"`
}

type logLevelResponse struct {
	CurrentLevel string `json:"currentLevel"`
}

type errorResponse struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{ErrorCode: code, ErrorMessage: msg})
}

func logLevelHandler(level *slog.LevelVar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			var req logLevelRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			var lv slog.Level
			if err := lv.UnmarshalText([]byte(strings.ToUpper(req.Level))); err != nil {
				writeError(w, http.StatusBadRequest, "invalid verbosity level")
				return
			}
			level.Set(lv)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(logLevelResponse{CurrentLevel: level.Level().String()})
	}
}
