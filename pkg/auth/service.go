package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingOrgID         = errors.New("missing org ID in token")
	ErrOrgIDMismatch        = errors.New("org ID mismatch between token and URL")
)

// AuthService defines the interface for authentication operations.
type AuthService interface {
	// ValidateRequest extracts the Bearer token from the Authorization header and validates it.
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireOrgID validates that the claims contain an org ID.
	RequireOrgID(claims *Claims) error

	// ValidateOrgIDMatch ensures the URL org ID matches the token org ID.
	// If urlOrgID is empty, validation is skipped.
	ValidateOrgIDMatch(claims *Claims, urlOrgID string) error
}

type authService struct {
	jwksClient JWKSClientInterface
	logger     *zap.Logger
}

// NewAuthService creates a new AuthService with the given JWKS client and logger.
func NewAuthService(jwksClient JWKSClientInterface, logger *zap.Logger) AuthService {
	return &authService{
		jwksClient: jwksClient,
		logger:     logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		s.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}
	tokenString := parts[1]

	claims, err := s.jwksClient.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func (s *authService) RequireOrgID(claims *Claims) error {
	if claims.OrgID == "" {
		return ErrMissingOrgID
	}
	return nil
}

func (s *authService) ValidateOrgIDMatch(claims *Claims, urlOrgID string) error {
	if urlOrgID != "" && !strings.EqualFold(claims.OrgID, urlOrgID) {
		s.logger.Warn("Org ID mismatch",
			zap.String("url_org_id", urlOrgID),
			zap.String("token_org_id", claims.OrgID))
		return ErrOrgIDMismatch
	}
	return nil
}

var _ AuthService = (*authService)(nil)
