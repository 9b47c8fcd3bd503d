package relay

import (
	"context"
	"net/http"

	"PPRelay/global"
	"PPRelay/middleware"
	midsec "PPRelay/middleware/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSServer upgrades GET /ws/:namespace and hands the connection to the
// router.
type WSServer struct {
	router   *Router
	cfg      global.WSConfig
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSServer(router *Router, cfg global.WSConfig, log *zap.Logger) *WSServer {
	return &WSServer{
		router: router,
		cfg:    cfg,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// HandleWS resolves namespace and channel before upgrading so a bad request
// gets a plain HTTP error. The user comes from the auth middleware or, on
// unauthenticated deployments, the ?user= query.
func (w *WSServer) HandleWS(c *gin.Context) {
	ns, err := w.router.lookup(c.Param("namespace"))
	if err != nil {
		global.Abort(c, err)
		return
	}
	channel, err := ns.ResolveChannel(c.Query("channel"))
	if err != nil {
		global.Abort(c, err)
		return
	}
	user := midsec.UserID(c)
	if user == "" {
		user = c.Query("user")
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		w.log.Info("upgrade websocket", zap.Error(err))
		return
	}

	tr := NewWSTransport(conn, w.cfg, w.log)
	req := ConnectRequest{Namespace: ns.Name, Channel: channel, UserID: user}
	sess, err := w.router.Accept(c.Request.Context(), req, tr)
	if err != nil {
		w.log.Info("accept session", zap.String("namespace", ns.Name), zap.Error(err))
		return
	}
	// the session outlives the handshake request context
	if err := sess.Serve(context.Background()); err != nil {
		sess.Logger().Debug("session ended", zap.Error(err))
	}
}
