package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentsnare/snare-go/internal/db"
)

const (
	SessionCookie = "snare_sid"
	SessionMaxAge = 30 * 24 * time.Hour // 30 days
)

// SessionManager issues and validates operator dashboard sessions backed by
// the operator_sessions table.
type SessionManager struct {
	db     *db.DB
	logger *slog.Logger
	secure bool // true in production (Secure cookie flag)
}

func NewSessionManager(database *db.DB, logger *slog.Logger, production bool) *SessionManager {
	return &SessionManager{db: database, logger: logger, secure: production}
}

// Create inserts a session row and sets the cookie.
func (sm *SessionManager) Create(ctx context.Context, w http.ResponseWriter, operatorID int, r *http.Request) error {
	// Strip port from RemoteAddr before storing
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	sess := &db.OperatorSession{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		ExpiresAt:  time.Now().Add(SessionMaxAge),
		IP:         ip,
		UserAgent:  r.UserAgent(),
	}
	if err := sm.db.CreateOperatorSession(ctx, sess); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(SessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   sm.secure,
	})
	return nil
}

// Validate reads the cookie and returns the operator, or nil.
func (sm *SessionManager) Validate(ctx context.Context, r *http.Request) (*db.Operator, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, nil // no cookie = not logged in
	}

	sess, err := sm.db.GetOperatorSession(ctx, cookie.Value)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get operator session: %w", err)
	}
	if sess.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}

	op, err := sm.db.GetOperatorByID(ctx, sess.OperatorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return op, nil
}

// Destroy deletes the session and clears the cookie.
func (sm *SessionManager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err == nil {
		if err := sm.db.DeleteOperatorSession(ctx, cookie.Value); err != nil {
			sm.logger.Error("session delete failed", "err", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   sm.secure,
	})
}

// CleanupLoop purges expired sessions every 24 hours.
func (sm *SessionManager) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sm.db.CleanExpiredOperatorSessions(ctx)
			if err != nil {
				sm.logger.Error("session cleanup failed", "err", err)
				continue
			}
			if deleted > 0 {
				sm.logger.Info("cleaned expired operator sessions", "count", deleted)
			}
		}
	}
}
