package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"parking/internal/money"
	"parking/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}

// decode reads a JSON body into dst and runs its validate tags. It writes the
// 400 itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload", "request body is not valid JSON")
		return false
	}
	if err := validator.Struct(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_payload",
			"message": "request failed validation",
			"fields":  validator.FieldErrors(err),
		})
		return false
	}
	return true
}

// parseAmount converts a validated decimal string into money.
func parseAmount(w http.ResponseWriter, field, raw string) (money.Money, bool) {
	amount, err := money.Parse(raw)
	if err != nil {
		mapping, ok := lookupStatus(err)
		if !ok {
			mapping = errorStatus{status: http.StatusBadRequest, code: "invalid_amount"}
		}
		respondError(w, mapping.status, mapping.code, field+": "+err.Error())
		return money.Zero, false
	}
	return amount, true
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

const (
	maxLimit = 200
	maxPage  = 100000
)

// page turns ?limit=&page= into limit and offset, capping limit at 200 and
// page at 100000.
func page(r *http.Request) (int, int) {
	query := r.URL.Query()
	limit := min(parseInt(query.Get("limit"), 50), maxLimit)
	pageNum := min(parseInt(query.Get("page"), 1), maxPage)
	return limit, (pageNum - 1) * limit
}
