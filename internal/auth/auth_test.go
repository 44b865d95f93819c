package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fittrack/internal/db"
	"fittrack/internal/types"
)

type mockSessions struct {
	records map[string]*db.SessionRecord
}

func (m *mockSessions) GetSession(_ context.Context, tokenID string) (*db.SessionRecord, error) {
	rec, ok := m.records[tokenID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown session token", nil)
	}
	return rec, nil
}

func newFixture(t *testing.T, expiresAt time.Time) (*Authenticator, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	sessions := &mockSessions{records: map[string]*db.SessionRecord{
		"tok1": {
			TokenHash: string(hash),
			ExpiresAt: expiresAt,
			User:      types.User{ID: 42, Email: "member@example.com", Role: types.RoleMember},
		},
	}}
	return NewAuthenticator(sessions), "tok1.s3cret"
}

func TestResolveTokenSuccess(t *testing.T) {
	a, token := newFixture(t, time.Now().UTC().Add(time.Hour))

	user, err := a.ResolveToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if user.ID != 42 || user.Role != types.RoleMember {
		t.Errorf("user = %+v", user)
	}
}

func TestResolveTokenWrongSecret(t *testing.T) {
	a, _ := newFixture(t, time.Now().UTC().Add(time.Hour))

	_, err := a.ResolveToken(context.Background(), "tok1.wrong")
	assertAuthCode(t, err, types.ErrCodeAuthTokenInvalid)
}

func TestResolveTokenExpired(t *testing.T) {
	a, token := newFixture(t, time.Now().UTC().Add(-time.Minute))

	_, err := a.ResolveToken(context.Background(), token)
	assertAuthCode(t, err, types.ErrCodeAuthTokenExpired)
}

func TestResolveTokenMalformed(t *testing.T) {
	a, _ := newFixture(t, time.Now().UTC().Add(time.Hour))

	for _, token := range []string{"", "nodot", ".secretonly", "idonly."} {
		_, err := a.ResolveToken(context.Background(), token)
		assertAuthCode(t, err, types.ErrCodeAuthTokenInvalid)
	}
}

func TestResolveTokenUnknownSession(t *testing.T) {
	a, _ := newFixture(t, time.Now().UTC().Add(time.Hour))

	_, err := a.ResolveToken(context.Background(), "other.secret")
	assertAuthCode(t, err, types.ErrCodeAuthTokenInvalid)
}

func assertAuthCode(t *testing.T, err error, want types.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != want {
		t.Fatalf("error = %v, want code %s", err, want)
	}
}
