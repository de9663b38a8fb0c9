package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 18

// SeedAdmin creates the first ADMIN account when the directory is empty.
// It returns the generated password, or "" if seeding was skipped.
// The password is logged once and must be changed.
func SeedAdmin(ctx context.Context, users UserRepository, hasher *Hasher, email string, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	email = NormalizeEmail(email)
	if !IsValidEmail(email) {
		return "", fmt.Errorf("seed admin email %q is not valid", email)
	}

	password, err := generateSeedPassword()
	if err != nil {
		return "", err
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:        email,
		Username:     "admin",
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"email", email,
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}

// generateSeedPassword returns a random password that also satisfies
// IsStrongPassword, so the account can later be recreated via the API.
func generateSeedPassword() (string, error) {
	b := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b) + "Aa1!", nil
}
