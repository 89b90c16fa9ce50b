// Package identity bridges Firebase phone identities onto the local
// account model: signup creates the account row for a verified phone
// number, login confirms registration, and the session exchange issues
// the service's own tokens for a confirmed identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"hakwon/consult/internal/auth"
	"hakwon/consult/internal/config"
	"hakwon/consult/internal/firebase"
	"hakwon/consult/internal/model"
	"hakwon/consult/internal/phone"
)

var (
	ErrMissingToken   = errors.New("identity: missing id token")
	ErrInvalidRole    = errors.New("identity: invalid role")
	ErrTokenInvalid   = errors.New("identity: token verification failed")
	ErrNoPhone        = errors.New("identity: no phone number in identity")
	ErrDuplicatePhone = errors.New("identity: phone already registered")
	ErrNotRegistered  = errors.New("identity: phone not registered")
	ErrSessionInvalid = errors.New("identity: session invalid or expired")
)

// Store is the subset of the repository the bridge needs. The bridge
// creates and reads user records; it never updates phone or identity
// fields after creation.
type Store interface {
	GetUserByPhone(ctx context.Context, phoneNumber string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	CreateUser(ctx context.Context, user model.User) error
	UpsertUserRole(ctx context.Context, userID, role string) error
	CreateRefreshSession(ctx context.Context, session model.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error
}

type Service struct {
	verifier firebase.Verifier
	store    Store
	cfg      config.Config
}

func NewService(verifier firebase.Verifier, store Store, cfg config.Config) *Service {
	return &Service{verifier: verifier, store: store, cfg: cfg}
}

func validRole(role string) bool {
	switch role {
	case "parent", "student", "admin":
		return true
	default:
		return false
	}
}

// syntheticEmail hosts a phone-only identity in the email-keyed account
// model. Deterministic over the Firebase uid, so repeated signups of
// the same identity collide on the unique email as well as the phone.
func syntheticEmail(uid string) string {
	return strings.ToLower(uid) + "@phone.firebase"
}

// Signup registers a verified phone identity exactly once. A second
// call for the same phone number fails with ErrDuplicatePhone by
// design.
func (s *Service) Signup(ctx context.Context, idToken, role string) error {
	if idToken == "" {
		return ErrMissingToken
	}
	if !validRole(role) {
		return ErrInvalidRole
	}

	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	if identity == nil {
		return ErrTokenInvalid
	}

	normalized, err := phone.Normalize(identity.PhoneNumber, s.cfg.PhoneCountryCode)
	if err != nil {
		return ErrNoPhone
	}

	_, err = s.store.GetUserByPhone(ctx, normalized)
	if err == nil {
		return ErrDuplicatePhone
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lookup phone: %w", err)
	}

	now := time.Now().UTC()
	user := model.User{
		ID:          uuid.New().String(),
		Email:       syntheticEmail(identity.UID),
		Phone:       normalized,
		FirebaseUID: identity.UID,
		Role:        role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if err := s.store.UpsertUserRole(ctx, user.ID, role); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// Login confirms that the verified phone identity is registered. The
// lookup tries the international form first and falls back to the
// domestic form, bridging historical records stored in either
// convention. No state is mutated.
func (s *Service) Login(ctx context.Context, idToken string) (model.User, error) {
	if idToken == "" {
		return model.User{}, ErrMissingToken
	}

	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return model.User{}, fmt.Errorf("verify token: %w", err)
	}
	if identity == nil {
		return model.User{}, ErrTokenInvalid
	}

	normalized, err := phone.Normalize(identity.PhoneNumber, s.cfg.PhoneCountryCode)
	if err != nil {
		return model.User{}, ErrNoPhone
	}

	user, err := s.store.GetUserByPhone(ctx, normalized)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("lookup phone: %w", err)
	}

	user, err = s.store.GetUserByPhone(ctx, phone.Domestic(normalized, s.cfg.PhoneCountryCode))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("lookup phone: %w", err)
	}
	return model.User{}, ErrNotRegistered
}

// StartSession performs Login and then issues this service's own
// access and refresh tokens for the confirmed identity.
func (s *Service) StartSession(ctx context.Context, idToken, userAgent, ipAddress string) (model.User, string, string, error) {
	user, err := s.Login(ctx, idToken)
	if err != nil {
		return model.User{}, "", "", err
	}

	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		return model.User{}, "", "", fmt.Errorf("access token: %w", err)
	}

	refreshToken, err := auth.NewRefreshToken()
	if err != nil {
		return model.User{}, "", "", fmt.Errorf("refresh token: %w", err)
	}

	now := time.Now().UTC()
	session := model.RefreshSession{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: auth.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}
	if ipAddress != "" {
		session.IPAddress = &ipAddress
	}
	if err := s.store.CreateRefreshSession(ctx, session); err != nil {
		return model.User{}, "", "", fmt.Errorf("create session: %w", err)
	}
	return user, accessToken, refreshToken, nil
}

// Refresh exchanges a live refresh token for a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (model.User, string, error) {
	session, err := s.store.GetRefreshSession(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, "", ErrSessionInvalid
		}
		return model.User{}, "", fmt.Errorf("lookup session: %w", err)
	}
	if session.RevokedAt != nil || session.ExpiresAt.Before(time.Now().UTC()) {
		return model.User{}, "", ErrSessionInvalid
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, "", ErrSessionInvalid
		}
		return model.User{}, "", fmt.Errorf("lookup user: %w", err)
	}

	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		return model.User{}, "", fmt.Errorf("access token: %w", err)
	}
	return user, accessToken, nil
}

// Logout revokes the refresh session; already-revoked or unknown
// tokens are a no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.store.GetRefreshSession(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("lookup session: %w", err)
	}
	if session.RevokedAt != nil {
		return nil
	}
	return s.store.RevokeRefreshSession(ctx, session.ID, time.Now().UTC())
}

func (s *Service) GetUser(ctx context.Context, userID string) (model.User, error) {
	return s.store.GetUserByID(ctx, userID)
}
