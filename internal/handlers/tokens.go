package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agentsnare/snare-go/internal/tokens"
)

// TokenHandler manages the honey token catalogue over the operator API.
type TokenHandler struct {
	registry *tokens.Registry
	logger   *slog.Logger
}

func NewTokenHandler(registry *tokens.Registry, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{registry: registry, logger: logger}
}

type createTokenRequest struct {
	TokenType  string `json:"token_type"`
	TokenValue string `json:"token_value"`
}

var validTokenTypes = map[string]bool{
	tokens.TypeAPIKey:      true,
	tokens.TypeAWSKey:      true,
	tokens.TypeGitHubToken: true,
	tokens.TypeJWT:         true,
}

// ListTokens handles GET /api/tokens
func (th *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	list, err := th.registry.List(r.Context())
	if err != nil {
		th.logger.Error("token list failed", "err", err)
		jsonError(w, "failed to fetch tokens", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// CreateToken handles POST /api/tokens
func (th *TokenHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.TokenType = strings.TrimSpace(req.TokenType)
	req.TokenValue = strings.TrimSpace(req.TokenValue)
	if !validTokenTypes[req.TokenType] {
		jsonError(w, "token_type must be one of api_key, aws_key, github_token, jwt", http.StatusBadRequest)
		return
	}
	// Short values would match everywhere and flood the detector.
	if len(req.TokenValue) < 12 {
		jsonError(w, "token_value must be at least 12 characters", http.StatusBadRequest)
		return
	}

	tok := tokens.Token{Type: req.TokenType, Value: req.TokenValue}
	if err := th.registry.Add(r.Context(), tok); err != nil {
		if errors.Is(err, tokens.ErrDuplicateToken) {
			jsonError(w, "token value already exists", http.StatusConflict)
			return
		}
		th.logger.Error("token create failed", "err", err)
		jsonError(w, "failed to create token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tok)
}
