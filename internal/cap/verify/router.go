package verify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/audit-core/internal/apierrors"
)

// Router builds the unary HTTP surface for the Verification RPC (spec §6):
// VerifyDigest, VerifyChain, ListDigests, GetPublicKeys, grounded on the
// teacher's go-chi/chi route-registration style.
func Router(svc *Service) chi.Router {
	r := chi.NewRouter()
	r.Get("/tenants/{tenant}/digests/{digestID}/verify", svc.handleVerifyDigest)
	r.Get("/tenants/{tenant}/chain/verify", svc.handleVerifyChain)
	r.Get("/tenants/{tenant}/digests", svc.handleListDigests)
	r.Get("/tenants/{tenant}/keys", svc.handlePublicKeys)
	return r
}

func (s *Service) handleVerifyDigest(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	digestID := chi.URLParam(r, "digestID")

	result, err := s.VerifyDigest(r.Context(), tenant, digestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, apierrors.Malformed(err.Error()))
		return
	}

	result, err := s.VerifyChain(r.Context(), tenant, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleListDigests(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, apierrors.Malformed(err.Error()))
		return
	}

	summaries, err := s.ListDigests(r.Context(), tenant, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Service) handlePublicKeys(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	manifest, err := s.PublicKeys(r.Context(), tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func parseRange(r *http.Request) (from, to *time.Time, err error) {
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, nil, err
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, nil, err
		}
		to = &t
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierrors.HTTPStatus(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
