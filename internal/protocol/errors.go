package protocol

const (
	// Messenger fabric.
	ErrConnectionLost = "E_CONNECTION_LOST"
	ErrNoSuchRemote   = "E_NO_SUCH_REMOTE"
	ErrNoSuchMethod   = "E_NO_SUCH_METHOD"
	ErrNoSuchNode     = "E_NO_SUCH_NODE"

	// Quarantine.
	ErrQuarantineRejected = "E_QUARANTINE_REJECTED"

	// Game loop.
	ErrLockTimeout = "E_LOCK_TIMEOUT"
	ErrGameOver    = "E_GAME_OVER"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrConnectionLost:     {},
	ErrNoSuchRemote:       {},
	ErrNoSuchMethod:       {},
	ErrNoSuchNode:         {},
	ErrQuarantineRejected: {},
	ErrLockTimeout:        {},
	ErrGameOver:           {},
	ErrBadRequest:         {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
