package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/store"
)

// ErrInvalidCredentials is returned for an unknown login or a failed
// credential verification. The two are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid login or password")

// Manager creates identities and issues sessions.
type Manager struct {
	store store.Store
}

// NewManager creates a Manager backed by the identity and session store.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// CreateIdentity creates a new identity with the given roles. The caller
// must hold create_user, and additionally every role being granted, so an
// identity can never be minted with privileges its creator lacks. A login
// collision surfaces as store.ErrDuplicateLogin, detected by the store's
// unique index rather than a read-then-write.
func (m *Manager) CreateIdentity(ctx context.Context, login, password string, roles []model.Role, caller *model.Session) (*model.Identity, error) {
	if err := Ensure(caller, model.RoleCreateUser); err != nil {
		return nil, err
	}
	for _, r := range roles {
		if err := Ensure(caller, r); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	ident := &model.Identity{
		ID:             model.NewIdentityID(),
		Login:          login,
		CredentialHash: string(hash),
		Roles:          roles,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.CreateIdentity(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// Login verifies a login/password pair and, on success, mints a fresh
// random token and persists a session carrying a copy of the identity's
// current roles. Later role changes on the identity do not propagate to
// the issued session. Unknown logins and verification failures (including
// a malformed stored hash) all map to ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, login, password string) (string, error) {
	if err := m.ensureReserved(ctx); err != nil {
		return "", err
	}

	ident, err := m.store.GetIdentityByLogin(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("load identity: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(ident.CredentialHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}

	sess := &model.Session{
		Token:      token,
		IdentityID: ident.ID,
		Roles:      append([]model.Role(nil), ident.Roles...),
		Superuser:  ident.ID == model.RootID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	return token, nil
}

// ensureReserved lazily materializes the root and guest identities. The
// insert-or-fetch in the store tolerates a concurrent creator, so this is
// safe to call on every login.
func (m *Manager) ensureReserved(ctx context.Context) error {
	now := time.Now().UTC()
	reserved := []*model.Identity{
		{ID: model.RootID, Login: model.RootLogin, CreatedAt: now},
		{ID: model.GuestID, Login: model.GuestLogin, CreatedAt: now},
	}
	for _, ident := range reserved {
		if _, err := m.store.GetOrCreateIdentity(ctx, ident); err != nil {
			return fmt.Errorf("ensure reserved identity %s: %w", ident.Login, err)
		}
	}
	return nil
}

// newToken returns a fresh 256-bit random token, hex encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
