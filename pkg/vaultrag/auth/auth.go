// Package auth stores user credentials and turns a successful password check
// into a session with a derived key.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/database"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/keys"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

var (
	ErrInvalidInput      = errors.New("invalid username or password format")
	ErrUserExists        = errors.New("username already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)

var migrations = []database.Migration{
	{Version: 1, SQL: `
		CREATE TABLE IF NOT EXISTS Users (
			Username     TEXT PRIMARY KEY,
			PasswordHash TEXT NOT NULL,
			Salt         TEXT,
			CreatedAt    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`},
}

// RekeyFunc re-encrypts a tenant's data from the old session key to the new
// one. It runs while the password change is still uncommitted.
type RekeyFunc func(ctx context.Context, oldSess, newSess *session.Session) error

// User is a row of the Users table without secrets.
type User struct {
	Username  string
	CreatedAt time.Time
}

// Store is the shared credential database.
type Store struct {
	path   string
	cost   int
	logger *slog.Logger
}

// NewStore returns a store backed by the SQLite file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		cost:   bcrypt.DefaultCost,
		logger: logger.With("component", "auth"),
	}
}

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	db, err := database.OpenSQLite(ctx, database.SQLiteConfig{Path: s.path})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("init auth schema: %w", err)
	}
	return db, nil
}

func validate(username, password string) (string, error) {
	username = NormalizeUsername(username)
	if password == "" || tenant.ValidateUsername(username) != nil {
		return "", ErrInvalidInput
	}
	return username, nil
}

// Signup creates a user with a fresh salt and returns its session.
func (s *Store) Signup(ctx context.Context, username, password string) (*session.Session, error) {
	username, err := validate(username, password)
	if err != nil {
		return nil, err
	}

	salt, err := keys.NewSalt()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO Users (Username, PasswordHash, Salt) VALUES (?, ?, ?)",
		username, string(hash), base64.StdEncoding.EncodeToString(salt))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrUserExists
	}

	s.logger.Info("user created", "user", username)
	return newSession(username, password, salt)
}

// Login checks the password and derives the session key. Rows without a
// salt get one on first login. Rows still holding a legacy SHA-256 hash are
// upgraded to bcrypt.
func (s *Store) Login(ctx context.Context, username, password string) (*session.Session, error) {
	username, err := validate(username, password)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var (
		storedHash string
		storedSalt sql.NullString
	)
	err = db.QueryRowContext(ctx,
		"SELECT PasswordHash, Salt FROM Users WHERE Username = ?", username).Scan(&storedHash, &storedSalt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}

	legacy, ok := checkPassword(storedHash, password)
	if !ok {
		return nil, ErrInvalidCredential
	}

	if legacy {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		if _, err := db.ExecContext(ctx, "UPDATE Users SET PasswordHash = ? WHERE Username = ?", string(hash), username); err != nil {
			return nil, fmt.Errorf("upgrade password hash: %w", err)
		}
		s.logger.Info("upgraded legacy password hash", "user", username)
	}

	salt, err := ensureSalt(ctx, db, username, storedSalt)
	if err != nil {
		return nil, err
	}
	return newSession(username, password, salt)
}

// ChangePassword replaces the password and salt. rekey, when non-nil, runs
// inside the credential transaction: if it fails nothing changes. If the
// credential commit fails after rekey succeeded, rekey is called again with
// the sessions swapped so the tenant returns to the old key.
func (s *Store) ChangePassword(ctx context.Context, username, oldPassword, newPassword string, rekey RekeyFunc) error {
	if newPassword == "" {
		return ErrInvalidInput
	}
	oldSess, err := s.Login(ctx, username, oldPassword)
	if err != nil {
		return err
	}
	defer oldSess.Clear()
	username = oldSess.Username()

	salt, err := keys.NewSalt()
	if err != nil {
		return err
	}
	newSess, err := newSession(username, newPassword, salt)
	if err != nil {
		return err
	}
	defer newSess.Clear()

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password change: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE Users SET PasswordHash = ?, Salt = ? WHERE Username = ?",
		string(hash), base64.StdEncoding.EncodeToString(salt), username); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if rekey != nil {
		if err := rekey(ctx, oldSess, newSess); err != nil {
			return fmt.Errorf("rekey tenant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if rekey != nil {
			// The tenant already uses the new key while the stored salt and
			// hash still describe the old one; move the tenant back.
			if rerr := rekey(context.WithoutCancel(ctx), newSess, oldSess); rerr != nil {
				s.logger.Error("tenant left under uncommitted key", "user", username, "error", rerr)
				return errors.Join(fmt.Errorf("commit password change: %w", err), fmt.Errorf("restore tenant key: %w", rerr))
			}
		}
		return fmt.Errorf("commit password change: %w", err)
	}
	s.logger.Info("password changed", "user", username)
	return nil
}

// Delete removes the user's credential row.
func (s *Store) Delete(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx, "DELETE FROM Users WHERE Username = ?", username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidCredential
	}
	s.logger.Info("user deleted", "user", username)
	return nil
}

// Users lists every registered user.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT Username, CreatedAt FROM Users ORDER BY Username")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			u       User
			created sql.NullTime
		)
		if err := rows.Scan(&u.Username, &created); err != nil {
			return nil, fmt.Errorf("read user: %w", err)
		}
		u.CreatedAt = created.Time
		users = append(users, u)
	}
	return users, rows.Err()
}

// checkPassword verifies password against a bcrypt hash or a legacy
// hex-encoded SHA-256 digest. legacy is true when the latter matched.
func checkPassword(stored, password string) (legacy, ok bool) {
	if strings.HasPrefix(stored, "$2") {
		return false, bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	want, err := hex.DecodeString(stored)
	if err != nil || len(want) != sha256.Size {
		return false, false
	}
	got := sha256.Sum256([]byte(password))
	return true, subtle.ConstantTimeCompare(got[:], want) == 1
}

func ensureSalt(ctx context.Context, db *sql.DB, username string, stored sql.NullString) ([]byte, error) {
	if stored.Valid && strings.TrimSpace(stored.String) != "" {
		salt, err := base64.StdEncoding.DecodeString(stored.String)
		if err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
		return salt, nil
	}

	salt, err := keys.NewSalt()
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "UPDATE Users SET Salt = ? WHERE Username = ?",
		base64.StdEncoding.EncodeToString(salt), username); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	return salt, nil
}

func newSession(username, password string, salt []byte) (*session.Session, error) {
	key, err := keys.DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer keys.Zero(key)
	return session.New(username, key)
}
