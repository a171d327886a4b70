package envunlocker

import (
	"context"
	"fmt"

	"github.com/taphub/taphubd/internal/core/ports"
)

type service struct {
	key string
}

func NewService(key string) (ports.Unlocker, error) {
	if len(key) <= 0 {
		return nil, fmt.Errorf("missing hub key in env")
	}
	return &service{key}, nil
}

func (s *service) GetKey(_ context.Context) (string, error) {
	return s.key, nil
}
