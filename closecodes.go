package sandwich

import (
	"errors"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
)

// WebsocketReconnectCloseCode is used when the shard tears its own connection
// down and wants the session resumed.
const WebsocketReconnectCloseCode = discord.CloseUnknownError

// WebsocketZombieCloseCode is used when a heartbeat was never acknowledged or
// HELLO never arrived.
const WebsocketZombieCloseCode = discord.CloseSessionTimeout

var closeCodeDescriptions = map[int]string{
	discord.CloseNormal:               "Normal closure",
	discord.CloseAbnormal:             "Abnormal closure",
	discord.CloseUnknownError:         "Unknown error",
	discord.CloseUnknownOpCode:        "Unknown opcode",
	discord.CloseDecodeError:          "Decode error",
	discord.CloseNotAuthenticated:     "Not authenticated",
	discord.CloseAuthenticationFailed: "Authentication failed",
	discord.CloseAlreadyAuthenticated: "Already authenticated",
	discord.CloseSessionNoLongerValid: "Session no longer valid",
	discord.CloseInvalidSeq:           "Invalid seq",
	discord.CloseRateLimited:          "Rate limited",
	discord.CloseSessionTimeout:       "Session timed out",
	discord.CloseInvalidShard:         "Invalid shard",
	discord.CloseShardingRequired:     "Sharding required",
	discord.CloseInvalidAPIVersion:    "Invalid API version",
	discord.CloseInvalidIntents:       "Invalid intent(s)",
	discord.CloseDisallowedIntents:    "Disallowed intent(s)",
}

// CloseCodeDescription returns a human readable name for a close code.
func CloseCodeDescription(code int) string {
	if description, ok := closeCodeDescriptions[code]; ok {
		return description
	}

	return "Unknown close code"
}

// IsCloseCodeRecoverable reports whether a shard closed with code may connect
// again. Unrecoverable codes mean the configuration or token is wrong.
func IsCloseCodeRecoverable(code int) bool {
	switch code {
	case discord.CloseAuthenticationFailed,
		discord.CloseInvalidShard,
		discord.CloseShardingRequired,
		discord.CloseInvalidIntents,
		discord.CloseDisallowedIntents:
		return false
	default:
		return true
	}
}

// IsCloseCodeResumable reports whether the session survives a close with code.
// A normal closure ends the session on discord's side.
func IsCloseCodeResumable(code int) bool {
	switch code {
	case discord.CloseNormal,
		discord.CloseSessionNoLongerValid,
		discord.CloseInvalidSeq:
		return false
	default:
		return IsCloseCodeRecoverable(code)
	}
}

// isAuthenticationFailure reports whether err means the token is unusable.
func isAuthenticationFailure(err error) bool {
	if errors.Is(err, ErrInvalidToken) {
		return true
	}

	var closeErr *CloseError

	return errors.As(err, &closeErr) && closeErr.Code == discord.CloseAuthenticationFailed
}
