package session

import "errors"

var (
	ErrNotFound       = errors.New("session_not_found")
	ErrNameConflict   = errors.New("lobby_name_taken")
	ErrSessionFull    = errors.New("session_full")
	ErrPrivateSession = errors.New("private_session")
	ErrNotHost        = errors.New("not_host")
	ErrNotReady       = errors.New("players_not_ready")
	ErrBadTransition  = errors.New("bad_transition")
	ErrNoSuchPlayer   = errors.New("no_such_player")
)
