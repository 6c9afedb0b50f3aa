// Package profiles is the durable repository of per-tenant exchange credential profiles.
package profiles

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"spotmirror/internal/apperr"
	"spotmirror/internal/models"
	"spotmirror/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Store manages credential profiles and tenant accounts inside the configuration document.
// Reads are served from the running copy; mutations are written through to disk first.
type Store struct {
	config   *storage.ConfigStore
	validate *validator.Validate
	logger   *slog.Logger
}

func New(config *storage.ConfigStore, logger *slog.Logger) *Store {
	return &Store{
		config:   config,
		validate: validator.New(),
		logger:   logger,
	}
}

// === Profiles ===

// List returns the tenant's profiles with documented defaults applied.
func (s *Store) List(tenant string) ([]models.CredentialProfile, error) {
	acc, ok := s.config.Snapshot().Account(tenant)
	if !ok {
		return nil, fmt.Errorf("user %q: %w", tenant, apperr.ErrNotFound)
	}

	for i := range acc.Profiles {
		acc.Profiles[i].ApplyDefaults()
	}

	return acc.Profiles, nil
}

// Upsert saves profile under tenant, replacing a stored profile with the same id.
// A key already claimed by the admin's direct key or by any other profile is a conflict.
func (s *Store) Upsert(ctx context.Context, profile models.CredentialProfile, tenant string) (models.CredentialProfile, error) {
	if strings.TrimSpace(profile.ID) == "" {
		profile.ID = uuid.NewString()
	}
	profile.ApplyDefaults()
	profile.Owner = ""

	if err := s.validate.Struct(profile); err != nil {
		return models.CredentialProfile{}, fmt.Errorf("%w: %s", apperr.ErrInvalid, err.Error())
	}

	err := s.config.Update(ctx, func(doc *storage.Document) error {
		list, ok := doc.ProfilesOf(tenant)
		if !ok {
			return fmt.Errorf("user %q: %w", tenant, apperr.ErrNotFound)
		}

		if err := checkKeyConflict(doc, profile, tenant); err != nil {
			return err
		}

		idx := slices.IndexFunc(*list, func(p models.CredentialProfile) bool {
			return p.ID == profile.ID
		})
		if idx >= 0 {
			(*list)[idx] = profile
		} else {
			*list = append(*list, profile)
		}

		return nil
	})
	if err != nil {
		return models.CredentialProfile{}, err
	}

	s.logger.Info("✅ Profile saved",
		slog.String("user", tenant),
		slog.String("profile", profile.ID),
		slog.String("name", profile.Name))

	profile.Owner = tenant

	return profile, nil
}

// Delete removes the tenant's profile with the given id.
func (s *Store) Delete(ctx context.Context, id, tenant string) error {
	err := s.config.Update(ctx, func(doc *storage.Document) error {
		list, ok := doc.ProfilesOf(tenant)
		if !ok {
			return fmt.Errorf("user %q: %w", tenant, apperr.ErrNotFound)
		}

		before := len(*list)
		*list = slices.DeleteFunc(*list, func(p models.CredentialProfile) bool {
			return p.ID == id
		})
		if len(*list) == before {
			return fmt.Errorf("profile %q: %w", id, apperr.ErrNotFound)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("🗑️ Profile deleted", slog.String("user", tenant), slog.String("profile", id))

	return nil
}

func checkKeyConflict(doc *storage.Document, profile models.CredentialProfile, tenant string) error {
	admin := doc.APIServer.AdminUsername()
	if doc.APIServer.Key != "" && profile.APIKey == doc.APIServer.Key && tenant != admin {
		return fmt.Errorf("%w: api key is already in use by the administrator", apperr.ErrConflict)
	}

	for _, p := range doc.AllProfiles() {
		if p.APIKey != profile.APIKey {
			continue
		}
		if p.Owner == tenant && p.ID == profile.ID {
			continue
		}
		return fmt.Errorf("%w: api key is already in use by another profile", apperr.ErrConflict)
	}

	return nil
}

// === Accounts ===

// Register appends a new tenant. The caller hashes the password.
func (s *Store) Register(ctx context.Context, username, passwordHash string) error {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return fmt.Errorf("%w: username and password are required", apperr.ErrInvalid)
	}

	err := s.config.Update(ctx, func(doc *storage.Document) error {
		if _, exists := doc.Account(username); exists {
			return fmt.Errorf("user %q already exists: %w", username, apperr.ErrConflict)
		}

		doc.APIServer.Users = append(doc.APIServer.Users, models.UserAccount{
			Username:     username,
			PasswordHash: passwordHash,
			Profiles:     []models.CredentialProfile{},
		})

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("👤 User registered", slog.String("user", username))

	return nil
}

// Accounts returns the admin first, then every tenant.
func (s *Store) Accounts() []models.UserAccount {
	return s.config.Snapshot().Accounts()
}

// Account looks up a single user, admin included.
func (s *Store) Account(username string) (models.UserAccount, bool) {
	return s.config.Snapshot().Account(username)
}

// StreamSecrets returns the pre-shared secrets accepted on streaming channels.
func (s *Store) StreamSecrets() []string {
	return s.config.Snapshot().APIServer.WSToken
}

// === Mirroring ===

// Followers returns every profile that opted into mirroring with usable credentials,
// excluding the one currently active in the engine. The active key is read from disk,
// the engine or an operator may have switched it outside this process. Futures profiles
// are included so the caller can report why they were skipped.
func (s *Store) Followers(ctx context.Context) ([]models.CredentialProfile, error) {
	disk, err := s.config.ReadDisk(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active credential: %w", err)
	}
	active := disk.ActiveKey()

	var out []models.CredentialProfile
	for _, p := range s.config.Snapshot().AllProfiles() {
		if !p.CopyEnabled || p.AllocationPct <= 0 || !p.HasCredentials() {
			continue
		}
		if p.APIKey == active {
			continue
		}
		p.ApplyDefaults()
		out = append(out, p)
	}

	return out, nil
}
