package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pository/pository/internal/authkey"
)

type createKeyRequest struct {
	Role        authkey.Role  `json:"role"`
	Description string        `json:"description"`
	Scope       *authkey.Scope `json:"scope"`
}

type createKeyResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, NewError(KindValidationFailure, "invalid JSON body"))
		return
	}
	switch req.Role {
	case authkey.RoleRead, authkey.RoleWrite, authkey.RoleAdmin:
	default:
		writeError(w, NewError(KindValidationFailure, "role must be one of read, write, admin"))
		return
	}

	id, secret, err := s.keys.CreateKey(req.Role, req.Description, req.Scope)
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{ID: id, Secret: secret})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.ListKeys())
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found, err := s.keys.DeleteKey(id)
	if err != nil {
		writeError(w, NewError(KindInternal, err.Error()))
		return
	}
	if !found {
		writeError(w, NewError(KindNotFound, "no such key"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
