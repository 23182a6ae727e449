package authpw

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"govreview/api/internal/store"
)

type mockUserStore struct {
	users map[string]store.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if user, ok := m.users[strings.ToLower(email)]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	key := strings.ToLower(user.Email)
	if _, ok := m.users[key]; ok {
		return store.ErrDuplicate
	}
	m.users[key] = user
	return nil
}

func newTestService() (*Service, *mockUserStore) {
	users := newMockUserStore()
	svc := NewService(users)
	svc.cost = bcrypt.MinCost
	return svc, users
}

func TestSignUp(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "casey@example.gov",
		Password:    "correct-horse",
		DisplayName: "Casey Requester",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if user.Role != "requester" {
		t.Errorf("expected requester role, got %q", user.Role)
	}
	if !strings.HasPrefix(user.ID, "usr_") {
		t.Errorf("expected usr_ id, got %q", user.ID)
	}
	if stored := users.users["casey@example.gov"]; stored.PasswordHash == "correct-horse" {
		t.Error("password stored in plaintext")
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  SignUpRequest
	}{
		{name: "missing fields", req: SignUpRequest{Email: "a@example.gov"}},
		{name: "bad email", req: SignUpRequest{Email: "nope", Password: "longenough", DisplayName: "A"}},
		{name: "short password", req: SignUpRequest{Email: "a@example.gov", Password: "short", DisplayName: "A"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SignUp(ctx, tc.req)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("SignUp() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	req := SignUpRequest{Email: "casey@example.gov", Password: "correct-horse", DisplayName: "Casey"}

	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	req.Email = "CASEY@example.gov"
	if _, err := svc.SignUp(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("second SignUp() error = %v, want ErrEmailTaken", err)
	}
}

func TestSignIn(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "casey@example.gov", Password: "correct-horse", DisplayName: "Casey"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	user, err := svc.SignIn(ctx, SignInRequest{Email: "casey@example.gov", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.DisplayName != "Casey" {
		t.Errorf("unexpected user: %+v", user)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "casey@example.gov", Password: "wrong-horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() wrong password error = %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.gov", Password: "correct-horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() unknown user error = %v", err)
	}
}
