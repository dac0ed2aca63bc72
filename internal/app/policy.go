package app

import "github.com/teleconsult/arcsignal/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(sid core.SessionID) BackpressureAction
}

// SimplePolicy drops the frame: signaling pushes are either retried by
// the client (offer/answer) or inherently lossy (ICE candidates), so a
// slow consumer is not worth disconnecting.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(sid core.SessionID) BackpressureAction {
	return DropFrame
}
