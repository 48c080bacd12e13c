package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/agentsnare/snare-go/internal/db"
)

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // e.g. "https://ops.snare.example"
	// AllowedLogins restricts who may operate the dashboard. Empty means any
	// GitHub account, which is only sensible in development.
	AllowedLogins []string
}

type OAuthHandler struct {
	oauth     *oauth2.Config
	allowed   map[string]bool
	sessions  *SessionManager
	db        *db.DB
	logger    *slog.Logger
	encryptor *TokenEncryptor // may be nil; token storage disabled

	// In-memory state store (pending OAuth states, TTL 10 min)
	mu     sync.Mutex
	states map[string]time.Time
}

func NewOAuthHandler(cfg OAuthConfig, sm *SessionManager, database *db.DB, logger *slog.Logger, enc *TokenEncryptor) *OAuthHandler {
	allowed := make(map[string]bool, len(cfg.AllowedLogins))
	for _, l := range cfg.AllowedLogins {
		allowed[strings.ToLower(l)] = true
	}

	return &OAuthHandler{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     githuboauth.Endpoint,
			RedirectURL:  cfg.BaseURL + "/auth/github/callback",
			Scopes:       []string{"read:user"},
		},
		allowed:   allowed,
		sessions:  sm,
		db:        database,
		logger:    logger,
		encryptor: enc,
		states:    make(map[string]time.Time),
	}
}

func (h *OAuthHandler) generateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	state := hex.EncodeToString(b)

	h.mu.Lock()
	h.states[state] = time.Now()
	h.mu.Unlock()
	return state
}

func (h *OAuthHandler) validateState(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	created, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return time.Since(created) <= 10*time.Minute
}

// StateCleanupLoop removes expired states every 5 minutes.
func (h *OAuthHandler) StateCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			for k, created := range h.states {
				if time.Since(created) > 10*time.Minute {
					delete(h.states, k)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *OAuthHandler) loginAllowed(login string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	return h.allowed[strings.ToLower(login)]
}

// BeginLogin redirects to GitHub OAuth (read:user scope).
func (h *OAuthHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.oauth.AuthCodeURL(h.generateState()), http.StatusFound)
}

// Callback handles the OAuth callback.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("oauth denied by user", "error", errParam)
		http.Redirect(w, r, "/?error=denied", http.StatusFound)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, `{"error":"missing code parameter"}`, http.StatusBadRequest)
		return
	}
	if !h.validateState(r.URL.Query().Get("state")) {
		http.Error(w, `{"error":"invalid or expired state"}`, http.StatusBadRequest)
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth exchange failed", "err", err)
		http.Error(w, `{"error":"github auth failed"}`, http.StatusBadRequest)
		return
	}

	gh := gogithub.NewClient(h.oauth.Client(r.Context(), tok))
	ghUser, _, err := gh.Users.Get(r.Context(), "")
	if err != nil {
		h.logger.Error("github user fetch failed", "err", err)
		http.Error(w, `{"error":"github user fetch failed"}`, http.StatusInternalServerError)
		return
	}

	login := ghUser.GetLogin()
	if !h.loginAllowed(login) {
		h.logger.Warn("login rejected by allowlist", "login", login)
		http.Error(w, `{"error":"operator not allowed"}`, http.StatusForbidden)
		return
	}

	operatorID, err := h.db.UpsertOperator(r.Context(), &db.Operator{
		GitHubID:    ghUser.GetID(),
		GitHubLogin: login,
		AvatarURL:   ghUser.GetAvatarURL(),
		Name:        ghUser.GetName(),
	})
	if err != nil {
		h.logger.Error("operator upsert failed", "err", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	// Token storage is best effort; login proceeds without it.
	if h.encryptor != nil {
		if enc, err := h.encryptor.Encrypt(tok.AccessToken); err != nil {
			h.logger.Error("token encrypt failed", "err", err)
		} else if err := h.db.SaveOperatorToken(r.Context(), operatorID, enc); err != nil {
			h.logger.Error("token store failed", "err", err)
		}
	}

	if err := h.sessions.Create(r.Context(), w, operatorID, r); err != nil {
		h.logger.Error("session creation failed", "err", err)
		http.Error(w, `{"error":"session creation failed"}`, http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// Me returns the current operator as JSON. With ?refresh=1 the profile is
// re-fetched from GitHub first, when a stored token allows it.
func (h *OAuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	op, err := h.sessions.Validate(r.Context(), r)
	if err != nil {
		h.logger.Error("session validate failed", "err", err)
	}
	if op == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"})
		return
	}

	if r.URL.Query().Get("refresh") != "" {
		if refreshed, err := h.refreshProfile(r.Context(), op); err != nil {
			h.logger.Warn("profile refresh failed", "login", op.GitHubLogin, "err", err)
		} else {
			op = refreshed
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(op)
}

// refreshProfile re-reads the operator's GitHub profile using their stored
// token and persists any changes.
func (h *OAuthHandler) refreshProfile(ctx context.Context, op *db.Operator) (*db.Operator, error) {
	if h.encryptor == nil {
		return nil, errors.New("token storage not configured")
	}
	encToken, err := h.db.GetOperatorToken(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	token, err := h.encryptor.Decrypt(encToken)
	if err != nil {
		return nil, err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	gh := gogithub.NewClient(oauth2.NewClient(ctx, ts))
	ghUser, _, err := gh.Users.Get(ctx, "")
	if err != nil {
		return nil, err
	}

	op.GitHubLogin = ghUser.GetLogin()
	op.AvatarURL = ghUser.GetAvatarURL()
	op.Name = ghUser.GetName()
	if _, err := h.db.UpsertOperator(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Logout destroys the session (POST only).
func (h *OAuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(r.Context(), w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}
