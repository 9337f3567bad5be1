// Package userservice manages business logic layer of users.
package userservice

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/go-fin/fin-ledger/internal/domain"
	"github.com/go-fin/fin-ledger/pkg/errorspkg"
	"github.com/go-fin/fin-ledger/pkg/passpkg"
)

// Repo provides data access layer interface needed by user service layer.
//
//go:generate mockgen -source service.go -destination service_mock.go -package userservice
type Repo interface {
	Create(ctx context.Context, arg domain.CreateUserParams) (domain.User, error)
	Get(ctx context.Context, username string) (domain.User, error)
	Remove(ctx context.Context, username string)
	All(ctx context.Context) []domain.User
}

// Persister provides the durable store interface needed to persist users.
type Persister interface {
	SaveUsers(ctx context.Context, users []domain.User) error
}

// Service facilitates user service layer logic.
type Service struct {
	repo      Repo
	persister Persister
}

// New returns user service struct to manage user business logic.
func New(ur Repo, persister Persister) *Service {
	return &Service{
		repo:      ur,
		persister: persister,
	}
}

// NewUserWithoutPassword returns user with removed sensitive data.
func NewUserWithoutPassword(u domain.User) domain.UserWithoutPassword {
	return domain.UserWithoutPassword{
		Username:  u.Username,
		FullName:  u.FullName,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

// Create creates and returns user.
func (s *Service) Create(ctx context.Context, username, password, fullname, email string) (domain.UserWithoutPassword, error) {
	l := zerolog.Ctx(ctx)

	var result domain.UserWithoutPassword

	hashedPassword, err := passpkg.Hash(password)
	if err != nil {
		l.Error().Err(err).Send()
		return result, errorspkg.ErrInternal
	}

	arg := domain.CreateUserParams{
		Username:       username,
		HashedPassword: hashedPassword,
		FullName:       fullname,
		Email:          email,
	}

	gotUser, err := s.repo.Create(ctx, arg)
	if err != nil {
		return result, err
	}

	if err := s.persister.SaveUsers(ctx, s.repo.All(ctx)); err != nil {
		l.Error().Err(err).Send()
		s.repo.Remove(ctx, gotUser.Username)

		return result, domain.ErrPersistenceFailed
	}

	result = NewUserWithoutPassword(gotUser)

	return result, nil
}

// CheckPassword checks if the password is valid for the given username.
func (s *Service) CheckPassword(ctx context.Context, username, pass string) (domain.UserWithoutPassword, error) {
	l := zerolog.Ctx(ctx)

	var response domain.UserWithoutPassword

	gotUser, err := s.repo.Get(ctx, username)
	if err != nil {
		return response, err
	}

	err = passpkg.Check(pass, gotUser.HashedPassword)
	if err != nil {
		l.Warn().Err(err).Send()
		return response, domain.ErrWrongPassword
	}

	response = NewUserWithoutPassword(gotUser)

	return response, nil
}
