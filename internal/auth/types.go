package auth

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Username and password length limits.
const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 12
	maxEmailLength    = 254
)

// passwordSymbols is the set of characters that satisfy the symbol rule.
const passwordSymbols = "#?!@$%^&*-"

// Role represents an authorisation tier.
type Role string

const (
	// RoleAdmin can read, write, delete and administer.
	RoleAdmin Role = "ADMIN"

	// RoleManager can read and write but not delete or administer.
	RoleManager Role = "MANAGER"

	// RoleUser can only read.
	RoleUser Role = "USER"
)

// DefaultRole is assigned to accounts created without an explicit role.
const DefaultRole = RoleUser

// ValidRoles lists every role in descending privilege order.
var ValidRoles = []Role{RoleAdmin, RoleManager, RoleUser}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User represents an account as stored by the user directory.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Public returns a copy of the user with the password hash cleared.
// Sessions and API responses only ever hold this form.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail checks that email parses as a bare address.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject display-name forms such as "Bob <bob@example.com>".
	return addr.Address == email
}

// IsValidUsername checks a username is 3-64 characters with no control characters.
func IsValidUsername(username string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(username))
	if n < minUsernameLength || n > maxUsernameLength {
		return false
	}
	for _, r := range username {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// IsStrongPassword requires at least 12 characters with an upper-case letter,
// a lower-case letter, a digit and one of #?!@$%^&*-.
func IsStrongPassword(password string) bool {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// Sentinel errors for repository and token operations.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailExists    = errors.New("email already registered")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrMissingSecret  = errors.New("token signing secret is required")
	ErrUnsupportedTTL = errors.New("unsupported token lifetime")
	ErrInvalidRole    = errors.New("invalid role")
)
