package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"beakdash-backend/internal/crypto"
	"beakdash-backend/internal/executor"
	"beakdash-backend/internal/storage"
)

const secretRefPrefix = "secret:"

// Store is the slice of the storage layer the resolver needs.
type Store interface {
	GetConnection(ctx context.Context, id string) (storage.ConnectionRecord, error)
}

// Secrets looks up passwords referenced by name instead of stored inline.
type Secrets interface {
	Lookup(name string) (string, bool)
}

// EnvSecrets resolves secret references from the process environment.
type EnvSecrets struct{}

func (EnvSecrets) Lookup(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	return value, ok
}

// Resolver turns a stored connection id into a ready-to-use executor target,
// enforcing ownership and the supported SQL dialects.
type Resolver struct {
	store     Store
	encryptor crypto.Encryptor
	secrets   Secrets
	logger    *slog.Logger
}

func NewResolver(store Store, encryptor crypto.Encryptor, secrets Secrets, logger *slog.Logger) *Resolver {
	if secrets == nil {
		secrets = EnvSecrets{}
	}
	return &Resolver{store: store, encryptor: encryptor, secrets: secrets, logger: logger}
}

// Resolve loads the connection, verifies the requesting user owns it, and
// maps it to a driver target. Missing and unauthorized connections are both
// reported as ErrNotFound so callers cannot probe for foreign connections.
// Space membership is enforced by the auth service upstream; only direct
// ownership is checked here.
func (r *Resolver) Resolve(ctx context.Context, connectionID, userID string) (executor.Target, error) {
	if strings.TrimSpace(connectionID) == "" {
		return executor.Target{}, ErrInvalidInput
	}
	rec, err := r.store.GetConnection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return executor.Target{}, ErrNotFound
		}
		return executor.Target{}, err
	}
	if rec.UserID != userID {
		return executor.Target{}, ErrNotFound
	}
	driver, err := mapDialect(rec.Type)
	if err != nil {
		return executor.Target{}, err
	}
	password, err := r.resolvePassword(rec.PasswordEnc)
	if err != nil {
		return executor.Target{}, err
	}
	sslMode := strings.ToLower(strings.TrimSpace(rec.SSLMode))
	switch sslMode {
	case "disable", "verify-full", "verify-ca":
	default:
		r.logger.Warn("connection uses TLS without peer verification",
			slog.String("connectionId", rec.ID), slog.String("sslMode", sslMode))
	}
	return executor.Target{
		Driver:   driver,
		Host:     rec.Host,
		Port:     rec.Port,
		User:     rec.User,
		Password: password,
		Database: rec.Database,
		SSLMode:  sslMode,
	}, nil
}

// resolvePassword decrypts the stored credential. Values with the "secret:"
// prefix are references into the secret store rather than inline ciphertext.
func (r *Resolver) resolvePassword(stored string) (string, error) {
	if name, ok := strings.CutPrefix(stored, secretRefPrefix); ok {
		value, found := r.secrets.Lookup(name)
		if !found {
			return "", fmt.Errorf("%w: %s", ErrSecretMissing, name)
		}
		return value, nil
	}
	plain, err := r.encryptor.Decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("decrypt connection password: %w", err)
	}
	return plain, nil
}

// mapDialect restricts the pipeline to SQL connections. REST and CSV sources
// are valid connections elsewhere in the product but cannot run checks.
func mapDialect(connType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(connType)) {
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sql", "mssql", "sqlserver":
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, connType)
	}
}
