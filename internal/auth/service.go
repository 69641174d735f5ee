package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/suPer8Hu/hackgpt/internal/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrUserExists         = errors.New("auth: username or email already registered")
	ErrInvalidSignup      = errors.New("auth: invalid signup fields")
)

const minPasswordLen = 6

type Service struct {
	db     *gorm.DB
	secret string
	ttl    time.Duration
}

func NewService(db *gorm.DB, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{db: db, secret: secret, ttl: ttl}
}

// SignUp creates the account and returns it with a fresh token.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || len(username) > 64 || len(password) < minPasswordLen {
		return nil, "", ErrInvalidSignup
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", ErrInvalidSignup
	}

	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&cnt).Error; err != nil {
		return nil, "", fmt.Errorf("check existing user: %w", err)
	}
	if cnt > 0 {
		return nil, "", ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Username: username, Email: email, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		// lost a race against a concurrent signup for the same name
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", ErrUserExists
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := SignJWT(user.ID, s.secret, s.ttl)
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}
	return user, token, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := SignJWT(user.ID, s.secret, s.ttl)
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}
	return &user, token, nil
}

// Verify returns the user id carried by a valid token.
func (s *Service) Verify(token string) (uint64, error) {
	return ParseJWT(token, s.secret)
}

func (s *Service) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
