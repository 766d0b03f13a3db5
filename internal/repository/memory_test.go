package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trustline/trustline/internal/model"
	"github.com/trustline/trustline/internal/testutil"
)

func TestMemory_Credentials(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Now().UTC()
	cred := &model.UserCredential{ID: "01HX", Email: "user@example.com", PasswordHash: "h1", CreatedAt: now, UpdatedAt: now}
	if err := m.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}
	if err := m.CreateCredential(ctx, cred); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	later := now.Add(time.Minute)
	if err := m.UpdatePasswordHash(ctx, cred.ID, "h2", later); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}

	got, err := m.GetCredentialByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetCredentialByEmail() error = %v", err)
	}
	if got.PasswordHash != "h2" || !got.UpdatedAt.Equal(later) {
		t.Errorf("hash not updated: %+v", got)
	}

	if _, err := m.GetCredentialByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}
	if err := m.UpdatePasswordHash(ctx, "missing", "h", later); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	org := testutil.NewTestOrganization(t, "Acme")
	_ = m.CreateOrganization(ctx, org)

	got, _ := m.GetOrganization(ctx, org.ID)
	got.Name = "mutated"

	again, _ := m.GetOrganization(ctx, org.ID)
	if again.Name != "Acme" {
		t.Errorf("store was mutated through a returned pointer")
	}
}

func TestMemory_WithEmailLock_CommitAndAbort(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	org := testutil.NewTestOrganization(t, "Acme")
	_ = m.CreateOrganization(ctx, org)

	aborted := errors.New("abort")
	err := m.WithEmailLock(ctx, "a@b.com", func(ctx context.Context, tx MemberTx) error {
		if err := tx.InsertMember(ctx, testutil.NewTestMember(t, org.ID, "a@b.com")); err != nil {
			return err
		}
		return aborted
	})
	if !errors.Is(err, aborted) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if n, _ := m.CountMembersByEmail(ctx, "a@b.com"); n != 0 {
		t.Fatalf("aborted insert was applied")
	}

	err = m.WithEmailLock(ctx, "a@b.com", func(ctx context.Context, tx MemberTx) error {
		exists, err := tx.MemberExists(ctx, "a@b.com")
		if err != nil || exists {
			t.Fatalf("MemberExists() = %v, %v", exists, err)
		}
		return tx.InsertMember(ctx, testutil.NewTestMember(t, org.ID, "a@b.com"))
	})
	if err != nil {
		t.Fatalf("WithEmailLock() error = %v", err)
	}

	got, err := m.GetMemberByEmail(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("GetMemberByEmail() error = %v", err)
	}
	if got.OrgID != org.ID {
		t.Errorf("OrgID = %s, want %s", got.OrgID, org.ID)
	}
}

func TestMemory_InsertMember_Constraints(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	org := testutil.NewTestOrganization(t, "Acme")
	_ = m.CreateOrganization(ctx, org)

	insert := func(orgID, email string) error {
		return m.WithEmailLock(ctx, email, func(ctx context.Context, tx MemberTx) error {
			return tx.InsertMember(ctx, testutil.NewTestMember(t, orgID, email))
		})
	}

	if err := insert(org.ID, "x@example.com"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(org.ID, "x@example.com"); !errors.Is(err, ErrEmailExists) {
		t.Errorf("duplicate insert: expected ErrEmailExists, got %v", err)
	}
	if err := insert("00000000-0000-0000-0000-000000000000", "y@example.com"); !errors.Is(err, ErrOrganizationNotFound) {
		t.Errorf("unknown org: expected ErrOrganizationNotFound, got %v", err)
	}
	if _, err := m.GetMemberByEmail(ctx, "y@example.com"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestMemory_WithEmailLock_SerializesSameEmail(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithEmailLock(ctx, "same@example.com", func(context.Context, MemberTx) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder at a time, saw %d", maxSeen)
	}
	if n := m.emailLocks.size(); n != 0 {
		t.Errorf("lock table not cleaned up, %d entries remain", n)
	}
}

func TestMemory_WithEmailLock_DifferentEmailsDoNotBlock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = m.WithEmailLock(ctx, "first@example.com", func(context.Context, MemberTx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	go func() {
		_ = m.WithEmailLock(ctx, "second@example.com", func(context.Context, MemberTx) error {
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different email blocked")
	}
	close(release)
}
