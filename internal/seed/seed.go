package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	appModels "github.com/yigit/chathub/internal/app/models"
)

// ProfileSeeder writes demo profiles
type ProfileSeeder interface {
	UpsertProfile(ctx context.Context, username, displayName string) (*appModels.Profile, error)
}

// TokenIssuer mints access tokens for seeded profiles
type TokenIssuer interface {
	GenerateAccessToken(profile *appModels.Profile) (string, error)
}

// DemoProfile describes one seeded profile
type DemoProfile struct {
	Username    string
	DisplayName string
}

// DefaultProfiles are created on development startups
var DefaultProfiles = []DemoProfile{
	{Username: "alice", DisplayName: "Alice Demir"},
	{Username: "bob", DisplayName: "Bob Kaya"},
	{Username: "carol", DisplayName: "Carol Yilmaz"},
}

// CreateDefaultData creates the demo profiles if they don't exist and logs a
// development token for each. Errors are collected without stopping the process.
func CreateDefaultData(ctx context.Context, seeder ProfileSeeder, tokens TokenIssuer, lgr zerolog.Logger) ([]*appModels.Profile, error) {
	lgr.Info().Int("count", len(DefaultProfiles)).Msg("Checking/Creating demo profiles...")

	var (
		finalErr error
		profiles []*appModels.Profile
	)

	for _, demo := range DefaultProfiles {
		profile, err := seeder.UpsertProfile(ctx, demo.Username, demo.DisplayName)
		if err != nil {
			lgr.Error().Err(err).Str("username", demo.Username).Msg("Error creating demo profile")
			finalErr = errors.Join(finalErr, fmt.Errorf("profile %s: %w", demo.Username, err))
			continue
		}
		profiles = append(profiles, profile)

		if tokens == nil {
			continue
		}

		token, err := tokens.GenerateAccessToken(profile)
		if err != nil {
			lgr.Error().Err(err).Str("username", demo.Username).Msg("Error creating demo token")
			finalErr = errors.Join(finalErr, err)
			continue
		}

		lgr.Info().
			Int64("profileID", profile.ID).
			Str("username", profile.Username).
			Str("token", token).
			Msg("Demo profile ready")
	}

	lgr.Info().Msg("Demo profile check/creation finished.")
	return profiles, finalErr
}
