/*
Package auth provides password and token authentication for humphrey
applications. Passwords are hashed with Argon2id and never stored in the
clear; the storage backend is pluggable through the `Database` interface.
*/
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// defaultTokenLifetime is how long an issued token stays valid.
const defaultTokenLifetime = 24 * time.Hour

// Errors reported by the provider.
var (
	// ErrNoUser is returned when the named user does not exist.
	ErrNoUser = errors.New("auth: no such user")

	// ErrBadHash is returned when a stored password hash cannot be
	// decoded.
	ErrBadHash = errors.New("auth: malformed password hash")
)

// User is one authenticated identity.
type User struct {
	UID          string
	PasswordHash string
}

// Token is a bearer token issued for a user.
type Token struct {
	UID    string
	Token  string
	Expiry time.Time
}

// Database stores users for a `Provider`.
type Database interface {
	AddUser(u User) error
	GetUser(uid string) (User, bool)
	UpdateUser(u User) error
	RemoveUser(uid string) error
}

// MemoryDatabase is an in-memory `Database`.
type MemoryDatabase struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDatabase returns a new instance of the `MemoryDatabase`.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{users: map[string]User{}}
}

// AddUser implements the `Database`.
func (db *MemoryDatabase) AddUser(u User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.users[u.UID] = u

	return nil
}

// GetUser implements the `Database`.
func (db *MemoryDatabase) GetUser(uid string) (User, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[uid]

	return u, ok
}

// UpdateUser implements the `Database`.
func (db *MemoryDatabase) UpdateUser(u User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[u.UID]; !ok {
		return ErrNoUser
	}

	db.users[u.UID] = u

	return nil
}

// RemoveUser implements the `Database`.
func (db *MemoryDatabase) RemoveUser(uid string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[uid]; !ok {
		return ErrNoUser
	}

	delete(db.users, uid)

	return nil
}

// Provider authenticates users against a `Database` and issues bearer
// tokens.
type Provider struct {
	db Database

	mu     sync.Mutex
	tokens map[string]Token
}

// NewProvider returns a new instance of the `Provider` over the db.
func NewProvider(db Database) *Provider {
	return &Provider{db: db, tokens: map[string]Token{}}
}

// CreateUser creates a user with a fresh UID and the password.
func (p *Provider) CreateUser(password string) (User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}

	u := User{UID: uuid.NewString(), PasswordHash: hash}
	if err := p.db.AddUser(u); err != nil {
		return User{}, err
	}

	return u, nil
}

// Exists reports whether a user with the uid exists.
func (p *Provider) Exists(uid string) bool {
	_, ok := p.db.GetUser(uid)
	return ok
}

// VerifyUser reports whether the password matches the user's stored hash.
func (p *Provider) VerifyUser(uid, password string) bool {
	u, ok := p.db.GetUser(uid)
	if !ok {
		return false
	}

	match, err := VerifyPassword(password, u.PasswordHash)

	return err == nil && match
}

// RemoveUser removes the user with the uid and invalidates their tokens.
func (p *Provider) RemoveUser(uid string) error {
	if err := p.db.RemoveUser(uid); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for t, token := range p.tokens {
		if token.UID == uid {
			delete(p.tokens, t)
		}
	}

	return nil
}

// CreateToken issues a bearer token for the user with the uid.
func (p *Provider) CreateToken(uid string) (Token, error) {
	if !p.Exists(uid) {
		return Token{}, ErrNoUser
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, err
	}

	t := Token{
		UID:    uid,
		Token:  base64.RawURLEncoding.EncodeToString(raw),
		Expiry: time.Now().Add(defaultTokenLifetime),
	}

	p.mu.Lock()
	p.tokens[t.Token] = t
	p.mu.Unlock()

	return t, nil
}

// VerifyToken returns the UID a valid, unexpired token was issued for.
func (p *Provider) VerifyToken(token string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tokens[token]
	if !ok {
		return "", false
	}

	if time.Now().After(t.Expiry) {
		delete(p.tokens, token)
		return "", false
	}

	return t.UID, true
}

// InvalidateToken revokes the token.
func (p *Provider) InvalidateToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.tokens, token)
}

// HashPassword derives an encoded Argon2id hash from the password with a
// random salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		argonTime,
		argonMemory,
		argonThreads,
		argonKeyLen,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonTime,
		argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether the password matches the encoded hash in
// constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrBadHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrBadHash
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(
		parts[3],
		"m=%d,t=%d,p=%d",
		&memory,
		&iterations,
		&threads,
	); err != nil {
		return false, ErrBadHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrBadHash
	}

	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrBadHash
	}

	got := argon2.IDKey(
		[]byte(password),
		salt,
		iterations,
		memory,
		threads,
		uint32(len(want)),
	)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
