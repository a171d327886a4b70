package fileunlocker

import (
	"bytes"
	"context"
	"os"

	"github.com/taphub/taphubd/internal/core/ports"
)

type service struct {
	filePath string
}

func NewService(filePath string) (ports.Unlocker, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, err
	}
	return &service{filePath: filePath}, nil
}

func (s *service) GetKey(_ context.Context) (string, error) {
	buf, err := os.ReadFile(s.filePath)
	if err != nil {
		return "", err
	}

	key := bytes.TrimFunc(buf, func(r rune) bool {
		return r == 10 || r == 13 || r == 32
	})

	return string(key), nil
}
