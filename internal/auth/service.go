package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken is returned by ValidateToken for a malformed, expired or forged token.
var ErrInvalidToken = errors.New("invalid token")

const tokenTTL = 24 * time.Hour

// RegisterInput describes a new account. An AGENCY account acts only under the agency profile.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Kind        models.AccountKind
	Client      bool
	Worker      bool
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*models.Account, error)
	Login(ctx context.Context, email, password string, profile models.Profile) (string, error)
	ValidateToken(ctx context.Context, token string) (models.Actor, error)
	Account(ctx context.Context, id uuid.UUID) (*models.Account, error)
	VerifyKYC(ctx context.Context, admin models.Actor, accountID uuid.UUID) (*models.Account, error)
	AddEmployee(ctx context.Context, agency models.Actor, name string) (*models.AgencyEmployee, error)
}

type service struct {
	repo   Repository
	secret []byte
	now    func() time.Time
}

func NewService(repo Repository, secret string) *service {
	return &service{repo: repo, secret: []byte(secret), now: time.Now}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Profile models.Profile `json:"profile"`
}

// Register creates the account and its empty wallet in one transaction.
func (s *service) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, apperr.InvalidInput("email and password are required")
	}
	switch in.Kind {
	case "":
		in.Kind = models.AccountKindIndividual
	case models.AccountKindIndividual, models.AccountKindAgency:
	default:
		return nil, apperr.InvalidInput("unknown account kind %q", in.Kind)
	}
	if in.Kind == models.AccountKindAgency && in.Worker {
		return nil, apperr.InvalidInput("agency accounts cannot hold a worker profile")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		ID:               uuid.New(),
		Email:            email,
		PasswordHash:     string(hash),
		DisplayName:      strings.TrimSpace(in.DisplayName),
		Kind:             in.Kind,
		Status:           models.AccountStatusCreated,
		HasClientProfile: in.Client,
		HasWorkerProfile: in.Worker,
	}
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	if err := s.repo.CreateAccount(ctx, tx, acc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("email %s already registered", email)
		}
		return nil, err
	}
	if err := s.repo.CreateWallet(ctx, tx, &models.Wallet{ID: uuid.New(), AccountID: acc.ID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acc, nil
}

// Login checks the password and issues a token for one of the account's profiles.
func (s *service) Login(ctx context.Context, email, password string, profile models.Profile) (string, error) {
	acc, err := s.repo.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	if profile == "" {
		profile = defaultProfile(acc)
	}
	if !acc.HasProfile(profile) {
		return "", apperr.Forbidden("account has no %s profile", profile)
	}
	return s.issueToken(acc.ID, profile)
}

func defaultProfile(a *models.Account) models.Profile {
	switch {
	case a.Kind == models.AccountKindAgency:
		return models.ProfileAgency
	case a.HasClientProfile:
		return models.ProfileClient
	case a.HasWorkerProfile:
		return models.ProfileWorker
	case a.IsAdmin:
		return models.ProfileAdmin
	}
	return models.ProfileClient
}

func (s *service) issueToken(accountID uuid.UUID, profile models.Profile) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Profile: profile,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (models.Actor, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Actor{}, ErrInvalidToken
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Profile == "" {
		return models.Actor{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.Actor{}, ErrInvalidToken
	}
	return models.Actor{AccountID: id, Profile: c.Profile}, nil
}

func (s *service) Account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acc, err := s.repo.GetAccount(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("account %s not found", id)
	}
	return acc, err
}

// VerifyKYC marks an account as identity-checked, which clients need before posting jobs.
func (s *service) VerifyKYC(ctx context.Context, admin models.Actor, accountID uuid.UUID) (*models.Account, error) {
	if err := s.requireProfile(ctx, admin, models.ProfileAdmin); err != nil {
		return nil, err
	}
	acc, err := s.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	acc.KYCVerified = true
	acc.Status = models.AccountStatusVerified
	if err := s.repo.UpdateAccountVerification(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// AddEmployee registers an employee under the calling agency.
func (s *service) AddEmployee(ctx context.Context, agency models.Actor, name string) (*models.AgencyEmployee, error) {
	if err := s.requireProfile(ctx, agency, models.ProfileAgency); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidInput("employee name is required")
	}
	e := &models.AgencyEmployee{ID: uuid.New(), AgencyID: agency.AccountID, Name: name, Active: true}
	if err := s.repo.CreateEmployee(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *service) requireProfile(ctx context.Context, actor models.Actor, p models.Profile) error {
	if actor.Profile != p {
		return apperr.Forbidden("requires the %s profile", p)
	}
	acc, err := s.Account(ctx, actor.AccountID)
	if err != nil {
		return err
	}
	if !acc.HasProfile(p) {
		return apperr.Forbidden("account %s has no %s profile", acc.ID, p)
	}
	return nil
}
