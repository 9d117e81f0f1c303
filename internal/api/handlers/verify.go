package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/docissue/internal/verify"
)

type Verifier interface {
	Verify(ctx context.Context, token string) (*verify.PublicView, error)
}

type VerifyHandler struct {
	verifier Verifier
}

func NewVerifyHandler(v Verifier) *VerifyHandler {
	return &VerifyHandler{verifier: v}
}

// Verify is public: it discloses only the published view of a document.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	view, err := h.verifier.Verify(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "document": view})
}
