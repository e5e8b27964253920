package webchat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/embedchat/pkg/attachments"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BroadcastHandlerName is the router handler that feeds browser sockets.
const BroadcastHandlerName = "ws-broadcast"

// WidgetInfo is the host-facing configuration echoed to the browser.
type WidgetInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Uploads     bool   `json:"uploads"`
}

// Server exposes one widget to a browser host over HTTP and websockets.
type Server struct {
	baseCtx  context.Context
	widget   *conversation.Widget
	info     WidgetInfo
	tray     *attachments.Tray
	pool     *ConnectionPool
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

type ServerOption func(*Server)

func WithTray(t *attachments.Tray) ServerOption {
	return func(s *Server) { s.tray = t }
}

func WithUpgrader(u websocket.Upgrader) ServerOption {
	return func(s *Server) { s.upgrader = u }
}

// NewServer builds the HTTP surface for w. ctx bounds every webhook call the
// server starts; a browser disconnecting does not cancel an in-flight send.
func NewServer(ctx context.Context, addr string, w *conversation.Widget, info WidgetInfo, opts ...ServerOption) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	if w == nil {
		return nil, errors.New("widget is nil")
	}
	s := &Server{
		baseCtx: ctx,
		widget:  w,
		info:    info,
		pool:    NewConnectionPool(w.Conversation().ID()),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

func (s *Server) Pool() *ConnectionPool { return s.pool }

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/widget", s.handleWidget)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Register attaches the websocket broadcaster to the event router.
func (s *Server) Register(ctx context.Context, r *events.Router) error {
	return r.AddHandler(ctx, BroadcastHandlerName, events.Topic, s.StepBroadcastFunc())
}

// StepBroadcastFunc forwards the widget's event frames to the attached
// sockets. Events of other conversations on the same stream are dropped.
func (s *Server) StepBroadcastFunc() func(*message.Message) error {
	return events.ForConversation(s.widget.Conversation().ID(), func(msg *message.Message) error {
		msg.Ack()
		s.pool.Broadcast(msg.Payload)
		return nil
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Str("conv_id", s.widget.Conversation().ID()).Msg("starting embed server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		s.pool.CloseAll()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("embed server stopped")
		return nil
	})

	return eg.Wait()
}
