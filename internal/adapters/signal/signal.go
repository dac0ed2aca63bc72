package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/app"
	"github.com/teleconsult/arcsignal/internal/auth"
	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller is the connection-facing front door: it binds each live
// websocket to a participant session and routes control messages to the
// room registry, call coordinator, annotation broadcaster and key vault.
type Controller struct {
	Registry    *app.Registry
	Rooms       *app.RoomRegistry
	Calls       *app.CallCoordinator
	Annotations *app.AnnotationBroadcaster
	Vault       *app.KeyVault
	Policy      app.Policy

	joins *RoomRateLimiter
}

func NewController(
	registry *app.Registry,
	rooms *app.RoomRegistry,
	calls *app.CallCoordinator,
	annotations *app.AnnotationBroadcaster,
	vault *app.KeyVault,
) *Controller {
	return &Controller{
		Registry:    registry,
		Rooms:       rooms,
		Calls:       calls,
		Annotations: annotations,
		Vault:       vault,
		Policy:      app.SimplePolicy{},
		joins:       NewRoomRateLimiter(10, time.Minute),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection and binds it to the identity the
// auth middleware resolved.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	identity, ok := c.MustGet("identity").(auth.Identity)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(identity.UserID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	meta, err := domain.NewParticipant(identity.UserID, identity.DisplayName, identity.Role)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad identity")
		conn.Close()
		return
	}
	sess := core.NewMemberSession(meta).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

// BroadcastRoom pushes one event to every connection currently bound to
// the room, consulting the backpressure policy for slow consumers.
func (ctl *Controller) BroadcastRoom(roomID domain.RoomID, v any) {
	for _, snap := range ctl.Registry.MembersOfRoom(roomID) {
		ctl.sendTo(snap.SID, snap.Session.Signal(), v)
	}
}

// BroadcastFrom is BroadcastRoom minus the originator.
func (ctl *Controller) BroadcastFrom(sid core.SessionID, roomID domain.RoomID, v any) {
	for _, snap := range ctl.Registry.MembersOfRoom(roomID) {
		if snap.SID == sid {
			continue
		}
		ctl.sendTo(snap.SID, snap.Session.Signal(), v)
	}
}

func (ctl *Controller) sendTo(sid core.SessionID, conn core.SignalConnection, v any) {
	if conn == nil {
		return
	}
	b, err := encode(v)
	if err != nil {
		return
	}
	if err := conn.TrySend(b); err != nil && ctl.Policy != nil {
		if ctl.Policy.OnBackPressure(sid) == app.KickMember {
			ctl.Registry.Cancel(sid)
		}
	}
}
