package domain

import "errors"

var (
	ErrValidation        = errors.New("invalid payload")
	ErrUnauthorized      = errors.New("not authorized")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is at capacity")
	ErrCallNotFound      = errors.New("call not found")
	ErrSessionNotFound   = errors.New("annotation session not found")
	ErrKeyNotFound       = errors.New("room key not found")
	ErrKeyExpired        = errors.New("room key expired")
	ErrKeyGeneration     = errors.New("key generation failed")
	ErrTargetUnavailable = errors.New("target user not connected")
)
