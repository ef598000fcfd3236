package dueldto

// DomainError is a stable error kind surfaced to the presentation layer.
// Code doubles as the message-catalog key.
type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "duel service error"
}

// One exported value per kind; callers compare with errors.Is.
var (
	ErrNotFound       = &DomainError{Code: "duel.not_found", Message: "duel not found"}
	ErrAlreadyHandled = &DomainError{Code: "duel.already_handled", Message: "duel was already handled"}

	ErrNotAcceptable = &DomainError{Code: "duel.not_acceptable", Message: "duel can no longer be accepted"}
	ErrNotActive     = &DomainError{Code: "duel.not_active", Message: "duel is not active"}
	ErrNotFinishable = &DomainError{Code: "duel.not_finishable", Message: "duel can no longer be finished"}
	ErrExpiredDuel   = &DomainError{Code: "duel.expired", Message: "duel has expired"}

	ErrSamePlayerDuel      = &DomainError{Code: "duel.same_player", Message: "cannot duel yourself"}
	ErrPlayerAlreadyInDuel = &DomainError{Code: "duel.player_busy", Message: "player already has an open duel"}
	ErrNotAuthorizedPlayer = &DomainError{Code: "duel.not_authorized", Message: "you are not a participant of this duel"}

	ErrInvalidStake    = &DomainError{Code: "duel.invalid_stake", Message: "stake is not available"}
	ErrInsufficientXP  = &DomainError{Code: "duel.insufficient_xp", Message: "not enough XP for this stake"}
	ErrInvalidGameType = &DomainError{Code: "duel.invalid_game_type", Message: "unknown game type"}
	ErrWrongGameType   = &DomainError{Code: "duel.wrong_game_type", Message: "duel has no playable game configured"}
	ErrInvalidResult   = &DomainError{Code: "duel.invalid_result", Message: "unknown duel result"}

	ErrMissingMessageID        = &DomainError{Code: "duel.missing_message_id", Message: "invite message id is required"}
	ErrConfigurationIncomplete = &DomainError{Code: "duel.config_incomplete", Message: "game type and stake must be set first"}
	ErrConfigurationError      = &DomainError{Code: "duel.config_error", Message: "duel configuration update failed", Retryable: true}

	ErrInvalidMove   = &DomainError{Code: "duel.invalid_move", Message: "that move is not allowed"}
	ErrAlreadyPlayed = &DomainError{Code: "duel.already_played", Message: "you already played your move"}
	ErrPayloadError  = &DomainError{Code: "duel.payload_error", Message: "move could not be recorded, try again", Retryable: true}
)
