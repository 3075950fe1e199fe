package service

import (
	"errors"
	"fmt"
	"log"

	"github.com/yourusername/lms-api/internal/domain/entity"
	"github.com/yourusername/lms-api/internal/domain/repository"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
	"github.com/yourusername/lms-api/pkg/auth"
)

// Ошибки аутентификации
var (
	// ErrEmailTaken - пользователь с таким email уже существует
	ErrEmailTaken = fmt.Errorf("%w: email already registered", apperrors.ErrConflict)

	// ErrInvalidCredentials - неверная пара email/пароль.
	// Одна ошибка для "нет пользователя" и "неверный пароль",
	// чтобы не раскрывать, какие email зарегистрированы.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperrors.ErrUnauthorized)
)

// AuthService предоставляет регистрацию и вход пользователей
type AuthService struct {
	userRepo   repository.UserRepository
	jwtService *auth.JWTService
}

// NewAuthService создает новый сервис аутентификации
func NewAuthService(userRepo repository.UserRepository, jwtService *auth.JWTService) *AuthService {
	return &AuthService{userRepo: userRepo, jwtService: jwtService}
}

// AuthResult содержит пользователя и выданный токен доступа
type AuthResult struct {
	User  *entity.User
	Token string
}

// Register создает нового пользователя.
// Пароль хешируется в хуке User.BeforeSave.
func (s *AuthService) Register(username, email, password, role string) (*AuthResult, error) {
	if role != entity.RoleStudent && role != entity.RoleInstructor {
		return nil, fmt.Errorf("%w: unknown role '%s'", apperrors.ErrValidation, role)
	}

	if _, err := s.userRepo.GetByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	user := &entity.User{
		Username: username,
		Email:    email,
		Password: password,
		Role:     role,
	}

	if err := s.userRepo.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.jwtService.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	log.Printf("[AuthService] Зарегистрирован пользователь #%d (%s, role=%s)", user.ID, user.Email, user.Role)
	return &AuthResult{User: user, Token: token}, nil
}

// Login проверяет учетные данные и выдает токен доступа
func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtService.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	log.Printf("[AuthService] Вход пользователя #%d (%s)", user.ID, user.Email)
	return &AuthResult{User: user, Token: token}, nil
}
