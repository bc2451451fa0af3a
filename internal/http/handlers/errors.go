package handlers

// Error codes carried in ErrorResponse.Code. Status-like codes come first,
// followed by the ones naming the operation that failed.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	ErrCodeAnswerFailed = "answer_failed"
	ErrCodeCreateFailed = "create_failed"
	ErrCodeListFailed   = "list_failed"
	ErrCodeUpdateFailed = "update_failed"
	ErrCodeDeleteFailed = "delete_failed"
	// ErrCodeRoomBusy is returned when another turn holds the room lock.
	ErrCodeRoomBusy = "room_busy"
	// ErrCodeKeyReused is returned when an Idempotency-Key comes back with a
	// different message.
	ErrCodeKeyReused = "idempotency_key_reused"
)
