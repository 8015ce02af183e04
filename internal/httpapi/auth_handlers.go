package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

type loginRequest struct {
	Login    string `json:"login"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) identifier() string {
	for _, v := range []string{r.Login, r.Username, r.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionResponse struct {
	auth.TokenPair
	Principal   auth.Principal    `json:"principal"`
	Permissions []auth.Permission `json:"permissions"`
}

type meResponse struct {
	Principal   auth.Principal    `json:"principal"`
	Permissions []auth.Permission `json:"permissions"`
	ExpiresAt   string            `json:"session_expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	pair, p, err := a.deps.Sessions.Login(r.Context(), req.identifier(), req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{TokenPair: pair, Principal: p, Permissions: auth.PermissionsFor(p.Role)})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	pair, p, err := a.deps.Sessions.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{TokenPair: pair, Principal: p, Permissions: auth.PermissionsFor(p.Role)})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	if err := a.deps.Sessions.Logout(r.Context(), token); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	p, err := a.deps.Sessions.Me(r.Context(), s)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Principal:   p,
		Permissions: auth.PermissionsFor(p.Role),
		ExpiresAt:   s.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if err := a.deps.Sessions.ChangePassword(r.Context(), sessionFrom(r), req.CurrentPassword, req.NewPassword); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
