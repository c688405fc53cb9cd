package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"fax/internal/media"
)

type linkVerifier interface {
	Verify(key, exp, sig string) error
}

// Media serves documents to the fax provider. Local files are streamed after
// the link signature is checked; remote backends get a redirect.
type Media struct {
	Backend    media.Backend
	PresignTTL time.Duration
	// RequireSignature forces the check even for unsigned links.
	RequireSignature bool
}

func (m *Media) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/media/{key}", m.handleGet).Methods(http.MethodGet, http.MethodHead)
}

func (m *Media) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if media.ValidateKey(key) != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: ErrUploadNotFound})
		return
	}

	if path, ok := m.Backend.LocalPath(key); ok {
		exp, sig := r.URL.Query().Get("exp"), r.URL.Query().Get("sig")
		if m.RequireSignature || exp != "" || sig != "" {
			v, canVerify := m.Backend.(linkVerifier)
			if !canVerify || v.Verify(key, exp, sig) != nil {
				writeJSON(w, http.StatusForbidden, errorBody{Error: ErrInvalidMediaLink})
				return
			}
		}
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: ErrUploadNotFound})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		http.ServeContent(w, r, key, st.ModTime(), f)
		return
	}

	exists, err := m.Backend.Exists(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, errorBody{Error: ErrUploadNotFound})
		return
	}
	url, err := m.Backend.PublicURL(r.Context(), key, m.PresignTTL)
	if err != nil {
		slog.Error("media url failed", "err", err, "key", key)
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}
