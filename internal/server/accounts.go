// ABOUTME: Account endpoints: registration, password login and the current user
// ABOUTME: Login returns a bearer JWT for all other endpoints

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/unconv/unconv-server/internal/admin"
	"github.com/unconv/unconv-server/internal/store"
)

// RegisterRequest is the JSON request body for POST /register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON request body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse describes a user without credentials.
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, admin.ErrInvalidAccount):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrUsernameExists):
		s.sendJSONError(w, http.StatusConflict, "username already exists")
		return
	case err != nil:
		s.sendInternalError(w, "registering user", err)
		return
	}

	s.sendJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.accounts.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, admin.ErrInvalidCredentials) {
		s.sendJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.sendInternalError(w, "logging in", err)
		return
	}

	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.sendLookupError(w, "user", err)
		return
	}
	s.sendJSON(w, http.StatusOK, toUserResponse(user))
}
