package auth

import (
	"context"
	"log/slog"
	"testing"

	"github.com/nerrad567/facility-review-core/internal/testutil"
)

func TestSeedAdmin_CreatesOnEmptyDB(t *testing.T) {
	repo := NewAdminRepository(testutil.OpenDB(t).DB)
	ctx := context.Background()

	password, err := SeedAdmin(ctx, repo, slog.Default())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password == "" {
		t.Fatal("SeedAdmin() should return generated password")
	}

	admin, err := repo.GetByLoginID(ctx, SeedLoginID)
	if err != nil {
		t.Fatalf("GetByLoginID(%q) error = %v", SeedLoginID, err)
	}

	ok, err := VerifyPassword(password, admin.PasswordHash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("generated password should verify against stored hash")
	}
}

func TestSeedAdmin_SkipsWhenAdminsExist(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewAdminRepository(db.DB)
	ctx := context.Background()

	testutil.Admin(t, db.DB, "existing")

	password, err := SeedAdmin(ctx, repo, slog.Default())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password != "" {
		t.Error("SeedAdmin() should return empty password when admins exist")
	}

	count, _ := repo.Count(ctx)
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestSeedAdmin_UniquePasswords(t *testing.T) {
	ctx := context.Background()

	pw1, _ := SeedAdmin(ctx, NewAdminRepository(testutil.OpenDB(t).DB), slog.Default())
	pw2, _ := SeedAdmin(ctx, NewAdminRepository(testutil.OpenDB(t).DB), slog.Default())

	if pw1 == pw2 {
		t.Error("seed passwords should be unique across instances")
	}
}
