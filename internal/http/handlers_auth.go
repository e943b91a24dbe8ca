package http

import (
	"net/http"

	"savtogether/internal/core"
)

type loginRequest struct {
	Email string `json:"email"`
}

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type userResponse struct {
	User core.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.facade.Login(r.Context(), sanitizeInput(req.Email))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.facade.Signup(r.Context(), sanitizeInput(req.FullName), sanitizeInput(req.Email))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: u})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	u, err := s.facade.Restore(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.facade.CurrentUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var upd core.UserUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	upd.FullName = sanitizePtr(upd.FullName)
	upd.Email = sanitizePtr(upd.Email)
	upd.AvatarURL = sanitizePtr(upd.AvatarURL)

	u, err := s.facade.UpdateUser(r.Context(), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.Logout(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
