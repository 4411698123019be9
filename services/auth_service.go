package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/repository"
	"github.com/CUknot/chatroom_backend/utils"
	"github.com/rs/zerolog/log"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Taken(ctx context.Context, username, email string) (bool, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id uint) (models.User, error)
}

type RegisterInput struct {
	Username string `json:"username" binding:"required,min=2,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResult struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// Session describes a verified bearer token.
type Session struct {
	UserID    uint      `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AuthService struct {
	users  UserStore
	tokens *utils.TokenManager
}

func NewAuthService(users UserStore, tokens *utils.TokenManager) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

// Register creates a user and signs a session token for it.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	taken, err := s.users.Taken(ctx, in.Username, in.Email)
	if err != nil {
		return AuthResult{}, err
	}
	if taken {
		return AuthResult{}, ErrUsernameTaken
	}

	user := models.User{Username: in.Username, Email: in.Email, Password: in.Password}
	if err := s.users.Create(ctx, &user); err != nil {
		return AuthResult{}, err
	}
	return s.issue(user)
}

// Login checks the credentials and signs a session token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, err
	}
	if err := user.ValidatePassword(in.Password); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *AuthService) issue(user models.User) (AuthResult, error) {
	token, _, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token for user %d: %w", user.ID, err)
	}
	return AuthResult{User: user, Token: token}, nil
}

// Session resolves a bearer token. An empty, invalid or orphaned token is
// not an error; it yields no session.
func (s *AuthService) Session(ctx context.Context, token string) (*Session, *models.User, error) {
	if token == "" {
		return nil, nil, nil
	}
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		log.Debug().Err(err).Msg("session token rejected")
		return nil, nil, nil
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	session := &Session{UserID: user.ID}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, &user, nil
}
