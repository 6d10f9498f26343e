package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecretSource resolves the keyed-hash signing secret for a provider. An
// empty secret means the provider does not sign its callbacks.
type SecretSource interface {
	SigningSecret(ctx context.Context, provider string) (string, error)
}

// Store persists per-provider webhook signing secrets in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SigningSecret returns the configured signing secret for provider, or an
// empty string when none is configured.
func (s *Store) SigningSecret(ctx context.Context, provider string) (string, error) {
	query := `
SELECT signing_secret
FROM provider_secrets
WHERE provider = $1;
`
	row := s.pool.QueryRow(ctx, query, provider)
	var secret string
	if err := row.Scan(&secret); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(secret), nil
}

// SetSigningSecret upserts the signing secret for a provider.
func (s *Store) SetSigningSecret(ctx context.Context, provider, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("signing secret is required")
	}
	query := `
INSERT INTO provider_secrets (provider, signing_secret, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (provider) DO UPDATE
SET signing_secret = EXCLUDED.signing_secret, updated_at = NOW();
`
	_, err := s.pool.Exec(ctx, query, provider, secret)
	return err
}

// StaticSecrets is a SecretSource backed by an in-memory map, used in tests
// and for deployments that configure secrets via environment.
type StaticSecrets map[string]string

func (m StaticSecrets) SigningSecret(_ context.Context, provider string) (string, error) {
	return m[provider], nil
}

var _ SecretSource = (*Store)(nil)
