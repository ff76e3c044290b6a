package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusswap/apperr"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = apperr.New(apperr.KindAuthorization, "auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = apperr.New(apperr.KindValidation, "auth: password must be at least 8 characters")
	// ErrPrivilegedRole is returned when a caller tries to self-register as staff.
	ErrPrivilegedRole = apperr.New(apperr.KindAuthorization, "auth: role cannot be self-assigned")
	// ErrInvalidToken covers every token that fails verification.
	ErrInvalidToken = apperr.New(apperr.KindAuthorization, "auth: invalid token")
)

// Service handles authentication business logic.
type Service struct {
	repo         Repository
	jwtSecret    []byte
	tokenTTL     time.Duration
	signupPoints int64
	now          func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
		now:       time.Now,
	}
}

// WithSignupPoints sets the opening balance granted at registration.
func (s *Service) WithSignupPoints(points int64) *Service {
	if points >= 0 {
		s.signupPoints = points
	}
	return s
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Register creates a new student or delivery-agent account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.DisplayName) == "" {
		return nil, apperr.Validationf("auth: email and display_name are required")
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleStudent
	}
	switch role {
	case RoleStudent, RoleAgent:
	case RoleModerator, RoleSystem:
		return nil, ErrPrivilegedRole
	default:
		return nil, apperr.Validationf("auth: invalid role %q", role)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:         strings.TrimSpace(req.Email),
		DisplayName:   strings.TrimSpace(req.DisplayName),
		PasswordHash:  string(passwordHash),
		Role:          role,
		PointsBalance: s.signupPoints,
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(Actor{ID: user.ID, Role: user.Role})
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IssueToken signs an HS256 token for the actor.
func (s *Service) IssueToken(actor Actor) (string, error) {
	if actor.Role == RoleSystem || !isValidRole(actor.Role) {
		return "", ErrPrivilegedRole
	}
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": actor.ID,
		"role":    string(actor.Role),
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a JWT token and returns the actor it was issued to.
func (s *Service) VerifyToken(tokenString string) (Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Actor{}, apperr.Wrap(apperr.KindAuthorization, "auth: parse token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Actor{}, ErrInvalidToken
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Actor{}, ErrInvalidToken
	}
	role := Role(roleStr)
	if role == RoleSystem || !isValidRole(role) {
		return Actor{}, ErrInvalidToken
	}
	return Actor{ID: userID, Role: role}, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleStudent, RoleModerator, RoleAgent, RoleSystem:
		return true
	default:
		return false
	}
}
