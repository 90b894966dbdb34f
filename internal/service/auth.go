package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	bcryptCost  = 12
	tokenIssuer = "vehicle-tax-portal"
)

// JWTClaims are the claims of an operator access token.
type JWTClaims struct {
	Sub      string `json:"sub"`
	SiteCode string `json:"site,omitempty"`
	jwt.RegisteredClaims
}

// AuthService authenticates portal operators.
type AuthService struct {
	store     port.OperatorStore
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.OperatorStore, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Login checks an operator's password and issues an access token.
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	id := strings.TrimSpace(req.OperatorID)
	span.SetAttributes(attribute.String("operator.id", id))
	if id == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Field: "operatorId", Message: "operator id and password are required"}
	}

	op, err := s.store.GetOperator(ctx, id)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			s.logger.Warn("login: unknown operator", zap.String("operator_id", id))
			return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: wrong password", zap.String("operator_id", id))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	token, err := s.signAccessToken(op)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("operator logged in",
		zap.String("operator_id", op.ID),
		zap.String("site_code", op.SiteCode),
	)

	return &domain.LoginResponse{
		AccessToken:  token,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		OperatorID:   op.ID,
		OperatorName: op.Name,
		SiteCode:     op.SiteCode,
	}, nil
}

// ValidateAccessToken parses and verifies a signed access token.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.Sub == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token claims"}
	}
	return claims, nil
}

// Operator loads the operator named by an access token's subject.
func (s *AuthService) Operator(ctx context.Context, id string) (*domain.Operator, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Operator")
	defer span.End()

	op, err := s.store.GetOperator(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return op, nil
}

func (s *AuthService) signAccessToken(op *domain.Operator) (string, error) {
	now := s.now()
	claims := JWTClaims{
		Sub:      op.ID,
		SiteCode: op.SiteCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// HashPassword returns the bcrypt hash stored for an operator.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", &domain.ErrValidation{Field: "password", Message: "must be at least 8 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
