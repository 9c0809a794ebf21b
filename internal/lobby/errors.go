package lobby

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotInvited     = errors.New("not_invited")
)
