package http

import (
	"net/http"

	"savtogether/internal/core"
)

type inviteRequest struct {
	Email string `json:"email"`
}

type invitationResponse struct {
	Invitation *core.Invitation `json:"invitation"`
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.facade.Invite(r.Context(), sanitizeInput(req.Email))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitationResponse{Invitation: &inv})
}

// handleInvitation returns {"invitation": null} when nothing was sent yet.
func (s *Server) handleInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.facade.CheckInvitation(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Invitation: inv})
}

func (s *Server) handleRejectInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.facade.RejectInvitation(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Invitation: &inv})
}
