// Package services defines the business logic for chat rooms, conversation
// turns, character creation and the user's movie library. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrRoomNotFound indicates that the room does not exist or belongs to
	// another user.
	ErrRoomNotFound = errors.New("chat room not found")

	// ErrEmptyPrompt is returned when a message is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a message exceeds the configured limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrCharacterNotFound is returned when an immersive room is requested
	// for an unknown character.
	ErrCharacterNotFound = errors.New("character not found")

	// ErrMovieNotFound is returned for unknown movie ids.
	ErrMovieNotFound = errors.New("movie not found")

	// ErrModelStream wraps a failure of the streamed completion.
	ErrModelStream = errors.New("model stream failed")
)
