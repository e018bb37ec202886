// Package auth owns account lifecycle and token issuance.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sdko-org/libproxy/internal/audit"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers unknown usernames, wrong passwords, and
// disabled accounts alike so the login endpoint never leaks which one it was.
var ErrInvalidCredentials = errors.New("invalid credentials")

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Service struct {
	users    store.UserStore
	tokens   *TokenGenerator
	recorder *audit.Recorder
	log      *logrus.Entry
}

func NewService(logger *logrus.Logger, users store.UserStore, tokens *TokenGenerator, recorder *audit.Recorder) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		recorder: recorder,
		log:      logger.WithField("component", "auth"),
	}
}

func (s *Service) Login(ctx context.Context, username, password string, fp models.Fingerprint) (*models.User, *TokenPair, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.recordFailure(nil, username, "unknown_user", "/auth/login", fp)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.recordFailure(&user.ID, username, "wrong_password", "/auth/login", fp)
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.recordFailure(&user.ID, username, "account_disabled", "/auth/login", fp)
		return nil, nil, ErrInvalidCredentials
	}

	now := time.Now()
	user.LastLogin = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.log.WithError(err).Warn("Failed to record last login")
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User logged in")
	return user, pair, nil
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Register creates an account. Uniqueness of username and email is enforced
// by the store; a duplicate surfaces as store.ErrConflict.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User registered")
	return user, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The user is
// re-read so a deactivation or admin-flag change takes effect immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string, fp models.Fingerprint) (*TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		s.recordFailure(&user.ID, user.Username, "account_disabled", "/auth/refresh", fp)
		return nil, ErrInvalidCredentials
	}

	return s.issueTokens(user)
}

func (s *Service) Profile(ctx context.Context, userID uint) (*models.User, error) {
	return s.users.Get(ctx, userID)
}

type ProfileUpdate struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID uint, upd ProfileUpdate) (*models.User, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.Email != nil {
		if err := ValidateEmail(*upd.Email); err != nil {
			return nil, err
		}
		user.Email = *upd.Email
	}
	if upd.FirstName != nil {
		user.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		user.LastName = *upd.LastName
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.log.WithField("user_id", user.ID).Info("Password changed")
	return nil
}

// SetPassword overwrites a user's password without checking the current
// one. Admin-only reset path; the usual flow is ChangePassword.
func (s *Service) SetPassword(ctx context.Context, userID uint, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.log.WithField("user_id", user.ID).Info("Password reset")
	return nil
}

// ResolveCaller turns a bearer token into the request identity. The user row
// is consulted so revoked accounts lose access before their token expires.
func (s *Service) ResolveCaller(ctx context.Context, accessToken string) (models.Caller, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return models.Caller{}, ErrInvalidToken
	}

	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Caller{}, ErrInvalidToken
		}
		return models.Caller{}, err
	}
	if !user.IsActive {
		return models.Caller{}, ErrInvalidToken
	}

	id := user.ID
	return models.Caller{UserID: &id, IsAdmin: user.IsAdmin}, nil
}

func (s *Service) issueTokens(user *models.User) (*TokenPair, error) {
	access, err := s.tokens.GenerateAccessToken(user.ID, user.IsAdmin)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(user.ID, user.IsAdmin)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// recordFailure writes the authentication failure to the audit log so
// failure analytics can report it. The specific reason stays out of the
// error returned to the client.
func (s *Service) recordFailure(userID *uint, username, reason, path string, fp models.Fingerprint) {
	s.log.WithFields(logrus.Fields{
		"username": username,
		"reason":   reason,
	}).Warn("Authentication failed")

	s.recorder.Record(models.AccessLog{
		UserID:            userID,
		IPAddress:         fp.IPAddress,
		UserAgent:         fp.UserAgent,
		Referer:           fp.Referer,
		RequestMethod:     http.MethodPost,
		RequestPath:       path,
		ResponseStatus:    http.StatusUnauthorized,
		AuthFailureReason: reason,
	})
}
