package repository

import (
	"context"
	"sync"
	"time"

	"github.com/trustline/trustline/internal/model"
)

// Memory is an in-process store with the same semantics as Repository.
// Used by unit tests and single-node development runs.
type Memory struct {
	mu          sync.RWMutex
	credentials map[string]model.UserCredential // by email
	orgs        map[string]model.Organization   // by id
	members     map[string]model.OrgMember      // by email

	emailLocks *keyedMutex
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		credentials: make(map[string]model.UserCredential),
		orgs:        make(map[string]model.Organization),
		members:     make(map[string]model.OrgMember),
		emailLocks:  newKeyedMutex(),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// CreateCredential stores a new credential.
func (m *Memory) CreateCredential(_ context.Context, cred *model.UserCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[cred.Email]; ok {
		return ErrEmailExists
	}
	m.credentials[cred.Email] = *cred
	return nil
}

// GetCredentialByEmail returns a copy of the stored credential.
func (m *Memory) GetCredentialByEmail(_ context.Context, email string) (*model.UserCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.credentials[email]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &cred, nil
}

// UpdatePasswordHash replaces the stored hash for the credential with id.
func (m *Memory) UpdatePasswordHash(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for email, cred := range m.credentials {
		if cred.ID == id {
			cred.PasswordHash = passwordHash
			cred.UpdatedAt = updatedAt
			m.credentials[email] = cred
			return nil
		}
	}
	return ErrCredentialNotFound
}

// CreateOrganization stores a new organization.
func (m *Memory) CreateOrganization(_ context.Context, org *model.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orgs[org.ID] = *org
	return nil
}

// GetOrganization returns the organization with id.
func (m *Memory) GetOrganization(_ context.Context, id string) (*model.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	return &org, nil
}

// GetMemberByEmail returns the member registered under email.
func (m *Memory) GetMemberByEmail(_ context.Context, email string) (*model.OrgMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[email]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return &member, nil
}

// CountMembersByEmail returns 0 or 1.
func (m *Memory) CountMembersByEmail(_ context.Context, email string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.members[email]; ok {
		return 1, nil
	}
	return 0, nil
}

// WithEmailLock serializes callers on email. Inserts staged by fn are
// applied only when fn returns nil.
func (m *Memory) WithEmailLock(ctx context.Context, email string, fn func(ctx context.Context, tx MemberTx) error) error {
	unlock := m.emailLocks.Lock(email)
	defer unlock()

	tx := &memMemberTx{store: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx.pending)
}

func (m *Memory) commit(pending []model.OrgMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Constraint checks run again at commit, as the database would.
	for _, member := range pending {
		if err := m.checkMemberLocked(member); err != nil {
			return err
		}
	}
	for _, member := range pending {
		m.members[member.Email] = member
	}
	return nil
}

func (m *Memory) checkMemberLocked(member model.OrgMember) error {
	if _, ok := m.members[member.Email]; ok {
		return ErrEmailExists
	}
	if _, ok := m.orgs[member.OrgID]; !ok {
		return ErrOrganizationNotFound
	}
	return nil
}

type memMemberTx struct {
	store   *Memory
	pending []model.OrgMember
}

func (t *memMemberTx) MemberExists(_ context.Context, email string) (bool, error) {
	for _, p := range t.pending {
		if p.Email == email {
			return true, nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.members[email]
	return ok, nil
}

func (t *memMemberTx) InsertMember(_ context.Context, member *model.OrgMember) error {
	t.store.mu.RLock()
	err := t.store.checkMemberLocked(*member)
	t.store.mu.RUnlock()
	if err != nil {
		return err
	}

	for _, p := range t.pending {
		if p.Email == member.Email {
			return ErrEmailExists
		}
	}
	t.pending = append(t.pending, *member)
	return nil
}
