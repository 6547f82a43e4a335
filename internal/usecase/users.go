package usecase

import (
	"context"
	"errors"
	"strings"
)

// UserDirectory lists the usernames registered with the identity provider.
type UserDirectory interface {
	ListUsernames(ctx context.Context) ([]string, error)
}

// UserService exposes the registered-user listing used to start new
// conversations.
type UserService struct {
	directory UserDirectory
}

func NewUserService(directory UserDirectory) (*UserService, error) {
	if directory == nil {
		return nil, errors.New("usecase: user directory must not be nil")
	}
	return &UserService{directory: directory}, nil
}

// ListUsers returns every registered username except the caller's own.
func (s *UserService) ListUsers(ctx context.Context, caller string) ([]string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return nil, newError(ErrorInvalidInput, "empty_username", nil)
	}

	names, err := s.directory.ListUsernames(ctx)
	if err != nil {
		return nil, newError(ErrorStoreUnavailable, "user_directory_error", err)
	}

	others := make([]string, 0, len(names))
	for _, name := range names {
		if name != caller {
			others = append(others, name)
		}
	}
	return others, nil
}
