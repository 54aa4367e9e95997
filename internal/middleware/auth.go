package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
)

const sessionName = "session"

type AuthMiddleware struct {
	store sessions.Store
}

func NewAuthMiddleware(store sessions.Store) *AuthMiddleware {
	return &AuthMiddleware{
		store: store,
	}
}

// RequireAuth answers 401 JSON; the SPA decides where to route the user.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.GetUserID(r); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"code": "Unauthorized", "message": "Please sign in to continue."},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) GetUserID(r *http.Request) (int, bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return 0, false
	}

	auth, ok := session.Values["authenticated"].(bool)
	if !ok || !auth {
		return 0, false
	}

	userID, ok := session.Values["user_id"].(int)
	return userID, ok
}

func (m *AuthMiddleware) SetUserSession(w http.ResponseWriter, r *http.Request, userID int) error {
	// A cookie that fails to decode still yields a fresh session to overwrite.
	session, err := m.store.Get(r, sessionName)
	if session == nil {
		return err
	}

	session.Values["authenticated"] = true
	session.Values["user_id"] = userID

	return session.Save(r, w)
}

func (m *AuthMiddleware) ClearSession(w http.ResponseWriter, r *http.Request) error {
	session, err := m.store.Get(r, sessionName)
	if session == nil {
		return err
	}

	session.Values["authenticated"] = false
	delete(session.Values, "user_id")
	session.Options.MaxAge = -1

	return session.Save(r, w)
}
