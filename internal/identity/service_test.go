package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"hakwon/consult/internal/config"
	"hakwon/consult/internal/firebase"
	"hakwon/consult/internal/model"
)

type fakeVerifier struct {
	identities map[string]*firebase.Identity
}

func (f *fakeVerifier) Verify(_ context.Context, idToken string) (*firebase.Identity, error) {
	return f.identities[idToken], nil
}

type fakeStore struct {
	usersByPhone map[string]model.User
	usersByID    map[string]model.User
	roles        map[string]string
	sessions     map[string]model.RefreshSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByPhone: map[string]model.User{},
		usersByID:    map[string]model.User{},
		roles:        map[string]string{},
		sessions:     map[string]model.RefreshSession{},
	}
}

func (f *fakeStore) GetUserByPhone(_ context.Context, phoneNumber string) (model.User, error) {
	user, ok := f.usersByPhone[phoneNumber]
	if !ok {
		return model.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (model.User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return model.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user model.User) error {
	f.usersByPhone[user.Phone] = user
	f.usersByID[user.ID] = user
	return nil
}

func (f *fakeStore) UpsertUserRole(_ context.Context, userID, role string) error {
	f.roles[userID] = role
	return nil
}

func (f *fakeStore) CreateRefreshSession(_ context.Context, session model.RefreshSession) error {
	f.sessions[session.TokenHash] = session
	return nil
}

func (f *fakeStore) GetRefreshSession(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	session, ok := f.sessions[tokenHash]
	if !ok {
		return model.RefreshSession{}, pgx.ErrNoRows
	}
	return session, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, sessionID string, revokedAt time.Time) error {
	for hash, session := range f.sessions {
		if session.ID == sessionID {
			session.RevokedAt = &revokedAt
			f.sessions[hash] = session
		}
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		PhoneCountryCode: "82",
		JWTSecret:        "secret",
		JWTIssuer:        "issuer",
		AccessTokenTTL:   time.Minute,
		RefreshTokenTTL:  time.Hour,
	}
}

func newTestService(store Store, identities map[string]*firebase.Identity) *Service {
	return NewService(&fakeVerifier{identities: identities}, store, testConfig())
}

func TestSignupRejectsBadInput(t *testing.T) {
	service := newTestService(newFakeStore(), nil)

	if err := service.Signup(context.Background(), "", "parent"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if err := service.Signup(context.Background(), "token", "teacher"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role error, got %v", err)
	}
	if err := service.Signup(context.Background(), "unknown", "parent"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected token invalid error, got %v", err)
	}
}

func TestSignupRejectsIdentityWithoutPhone(t *testing.T) {
	service := newTestService(newFakeStore(), map[string]*firebase.Identity{
		"token": {UID: "uid-1"},
	})
	if err := service.Signup(context.Background(), "token", "parent"); !errors.Is(err, ErrNoPhone) {
		t.Fatalf("expected no-phone error, got %v", err)
	}
}

func TestSignupNotIdempotent(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store, map[string]*firebase.Identity{
		"token-a": {UID: "UID-1", PhoneNumber: "+821012345678"},
		"token-b": {UID: "uid-2", PhoneNumber: "01012345678"},
	})

	if err := service.Signup(context.Background(), "token-a", "parent"); err != nil {
		t.Fatalf("first signup error: %v", err)
	}

	user, ok := store.usersByPhone["+821012345678"]
	if !ok {
		t.Fatalf("expected user stored under international form")
	}
	if user.Email != "uid-1@phone.firebase" {
		t.Fatalf("unexpected synthetic email %q", user.Email)
	}
	if store.roles[user.ID] != "parent" {
		t.Fatalf("expected role assignment, got %q", store.roles[user.ID])
	}

	// Same phone via a different token normalizes to the same key.
	if err := service.Signup(context.Background(), "token-b", "parent"); !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("expected duplicate phone error, got %v", err)
	}
}

func TestLoginDualFormLookup(t *testing.T) {
	store := newFakeStore()
	// Historical record stored in domestic form.
	legacy := model.User{ID: "user-legacy", Phone: "01012345678", Role: "parent"}
	store.usersByPhone[legacy.Phone] = legacy
	store.usersByID[legacy.ID] = legacy

	service := newTestService(store, map[string]*firebase.Identity{
		"token": {UID: "uid-1", PhoneNumber: "+821012345678"},
	})

	user, err := service.Login(context.Background(), "token")
	if err != nil {
		t.Fatalf("login error: %v", err)
	}
	if user.ID != "user-legacy" {
		t.Fatalf("expected legacy record found via domestic fallback, got %+v", user)
	}
}

func TestLoginInternationalFormPreferred(t *testing.T) {
	store := newFakeStore()
	current := model.User{ID: "user-1", Phone: "+821012345678", Role: "parent"}
	store.usersByPhone[current.Phone] = current
	store.usersByID[current.ID] = current

	service := newTestService(store, map[string]*firebase.Identity{
		"token": {UID: "uid-1", PhoneNumber: "01012345678"},
	})

	user, err := service.Login(context.Background(), "token")
	if err != nil {
		t.Fatalf("login error: %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("expected international-form record, got %+v", user)
	}
}

func TestLoginUnregistered(t *testing.T) {
	service := newTestService(newFakeStore(), map[string]*firebase.Identity{
		"token": {UID: "uid-1", PhoneNumber: "+821012345678"},
	})
	if _, err := service.Login(context.Background(), "token"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected not-registered error, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store, map[string]*firebase.Identity{
		"token": {UID: "uid-1", PhoneNumber: "+821012345678"},
	})

	if err := service.Signup(context.Background(), "token", "parent"); err != nil {
		t.Fatalf("signup error: %v", err)
	}

	user, accessToken, refreshToken, err := service.StartSession(context.Background(), "token", "test-agent", "127.0.0.1")
	if err != nil {
		t.Fatalf("start session error: %v", err)
	}
	if accessToken == "" || refreshToken == "" {
		t.Fatalf("expected both tokens issued")
	}

	refreshedUser, newAccess, err := service.Refresh(context.Background(), refreshToken)
	if err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if refreshedUser.ID != user.ID || newAccess == "" {
		t.Fatalf("unexpected refresh result")
	}

	if err := service.Logout(context.Background(), refreshToken); err != nil {
		t.Fatalf("logout error: %v", err)
	}
	if _, _, err := service.Refresh(context.Background(), refreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected revoked session to fail refresh, got %v", err)
	}
}
