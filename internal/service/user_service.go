package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/postfleet/postfleet/internal/models"
	"github.com/postfleet/postfleet/internal/repository"
)

type UserService interface {
	UserInfo(ctx context.Context, userID int64) (*models.User, error)
}

type userService struct {
	u repository.UserRepository
}

func NewUserService(u repository.UserRepository) UserService {
	return &userService{u: u}
}

func (s *userService) UserInfo(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.u.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		err = errors.New("user doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}
	return user, nil
}
