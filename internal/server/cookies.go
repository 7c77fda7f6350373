package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// CookieName is the name of the session cookie
	CookieName = "stayassist_session"
	// CookieMaxAge bounds how long a browser keeps talking as the same sender.
	CookieMaxAge = 24 * time.Hour
	// DefaultSender is used when neither the context nor a cookie names one.
	DefaultSender = "user"
)

// newSenderID returns a fresh dialogue sender id such as "user_1f3a9c2b".
func newSenderID() string {
	return "user_" + uuid.NewString()[:8]
}

func SetSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func GetSessionCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// getSessionID reads the session from the cookie, then the X-Session-Id
// header.
func getSessionID(r *http.Request) string {
	if sid, err := GetSessionCookie(r); err == nil && sid != "" {
		return sid
	}
	return r.Header.Get("X-Session-Id")
}

func getOrCreateSessionID(r *http.Request, w http.ResponseWriter) string {
	sid := getSessionID(r)
	if sid == "" {
		sid = newSenderID()
		log.Debug().Str("session", sid).Str("path", r.URL.Path).Msg("creating session")
		SetSessionCookie(w, sid)
	}
	w.Header().Set("X-Session-Id", sid)
	return sid
}
