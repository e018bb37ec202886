package auth

import (
	"regexp"
	"strings"

	"github.com/sdko-org/libproxy/internal/models"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return &models.ValidationError{Field: "email", Message: "Invalid email address"}
	}
	return nil
}

func ValidateUsername(username string) error {
	switch {
	case username == "":
		return &models.ValidationError{Field: "username", Message: "Username is required"}
	case len(username) < 3:
		return &models.ValidationError{Field: "username", Message: "Username must be at least 3 characters long"}
	case len(username) > 30:
		return &models.ValidationError{Field: "username", Message: "Username must be less than 30 characters"}
	case !usernamePattern.MatchString(username):
		return &models.ValidationError{Field: "username", Message: "Username must start with a letter and contain only letters, numbers, and underscores"}
	}
	return nil
}

func ValidatePassword(password string) error {
	fail := func(msg string) error {
		return &models.ValidationError{Field: "password", Message: msg}
	}
	switch {
	case password == "":
		return fail("Password is required")
	case len(password) < 8:
		return fail("Password must be at least 8 characters long")
	case len(password) > 128:
		return fail("Password must be less than 128 characters")
	case !strings.ContainsAny(password, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"):
		return fail("Password must contain at least one uppercase letter")
	case !strings.ContainsAny(password, "abcdefghijklmnopqrstuvwxyz"):
		return fail("Password must contain at least one lowercase letter")
	case !strings.ContainsAny(password, "0123456789"):
		return fail("Password must contain at least one digit")
	case !strings.ContainsAny(password, `!@#$%^&*(),.?":{}|<>`):
		return fail("Password must contain at least one special character")
	}
	return nil
}
