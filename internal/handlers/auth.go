package handlers

import (
	"net/http"

	"github.com/sdko-org/libproxy/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Username and password are required"})
		return
	}

	user, pair, err := h.auth.Login(r.Context(), req.Username, req.Password, fingerprintFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "Login successful",
		"user":          user,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"user":    user,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken, fingerprintFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	user, err := h.auth.Profile(r.Context(), *caller.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var upd auth.ProfileUpdate
	if !h.decodeBody(w, r, &upd) {
		return
	}

	caller := callerFrom(r)
	user, err := h.auth.UpdateProfile(r.Context(), *caller.UserID, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Profile updated",
		"user":    user,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	caller := callerFrom(r)
	if err := h.auth.ChangePassword(r.Context(), *caller.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

// logout is stateless on the server side: tokens simply age out. The
// endpoint exists so clients have a uniform place to drop their session.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
