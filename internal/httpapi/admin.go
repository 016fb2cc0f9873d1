package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// HandleBackoffStatus serves GET /api/credentials/backoff-status, a
// read-only admin view of every credential's cooldown state. The password
// query parameter is checked with subtle.ConstantTimeCompare — the one
// stdlib use in this package, since no corpus library covers constant-time
// string comparison (DESIGN.md).
func (h *Handler) HandleBackoffStatus(w http.ResponseWriter, r *http.Request) {
	if !h.AdminEnabled {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	provided := []byte(r.URL.Query().Get("password"))
	want := []byte(h.AdminPassword)
	if len(provided) == 0 || subtle.ConstantTimeCompare(provided, want) != 1 {
		writeJSONError(w, http.StatusForbidden, "invalid password")
		return
	}

	snapshot := h.Pool.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}
