package principals

import (
	"errors"
	"strings"
)

func (s *Service) validate(p Principal) error {
	if strings.TrimSpace(p.Code) == "" {
		return errors.New("principal code is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("principal name is required")
	}
	return nil
}
