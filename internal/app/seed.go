package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mobidoc/internal/identity"
	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

// DemoAccount is a seeded user with a ready-to-use access token.
type DemoAccount struct {
	User      *types.User
	Token     string
	ExpiresAt time.Time
}

// demoUsers have fixed ids so seeding twice updates instead of duplicating.
func demoUsers(now time.Time) []*types.User {
	return []*types.User{
		{
			ID:        "demo-admin",
			Name:      "Admin User",
			Email:     "admin@example.com",
			Phone:     "1234567890",
			Role:      types.RoleAdmin,
			KYCStatus: types.KYCApproved,
			CreatedAt: now,
		},
		{
			ID:            "demo-doctor",
			Name:          "Dr. John Smith",
			Email:         "doctor@example.com",
			Phone:         "0987654321",
			Role:          types.RoleDoctor,
			KYCStatus:     types.KYCApproved,
			Specialties:   []string{"Cardiology", "General Medicine"},
			LicenseNumber: "MD12345",
			Available:     true,
			CreatedAt:     now,
		},
		{
			ID:            "demo-doctor-pending",
			Name:          "Dr. Alex Reed",
			Email:         "pending.doctor@example.com",
			Role:          types.RoleDoctor,
			KYCStatus:     types.KYCPending,
			Specialties:   []string{"Cardiology"},
			LicenseNumber: "MD67890",
			Available:     true,
			CreatedAt:     now,
		},
		{
			ID:        "demo-patient",
			Name:      "Jane Doe",
			Email:     "patient@example.com",
			Phone:     "5555555555",
			Role:      types.RolePatient,
			KYCStatus: types.KYCApproved,
			CreatedAt: now,
		},
	}
}

// ProfileCache drops cached user profiles once the store copy changes.
type ProfileCache interface {
	Invalidate(id string)
}

// Seed upserts the demo users and issues each an access token. Cached
// profiles of the seeded users are dropped so the gate and message
// presentation see the new records; profiles may be nil.
func Seed(ctx context.Context, users interfaces.UserStore, profiles ProfileCache, verifier *identity.Verifier, logger zerolog.Logger) ([]DemoAccount, error) {
	now := time.Now().UTC()
	accounts := make([]DemoAccount, 0, 4)

	for _, u := range demoUsers(now) {
		if err := users.UpsertUser(ctx, u); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", u.Email, err)
		}
		if profiles != nil {
			profiles.Invalidate(u.ID)
		}
		token, exp, err := verifier.Issue(u.ID, u.Role, identity.TokenAccess)
		if err != nil {
			return nil, fmt.Errorf("failed to issue token for %s: %w", u.Email, err)
		}
		accounts = append(accounts, DemoAccount{User: u, Token: token, ExpiresAt: exp})

		logger.Info().
			Str("user_id", u.ID).
			Str("email", u.Email).
			Str("role", string(u.Role)).
			Time("expires_at", exp).
			Str("token", token).
			Msg("seeded demo user")
	}
	return accounts, nil
}

// Seed runs the demo seed against the application's own store.
func (app *Application) Seed(ctx context.Context) ([]DemoAccount, error) {
	return Seed(ctx, app.store, app.directory, app.verifier, app.logger)
}
