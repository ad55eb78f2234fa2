package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/appshare/internal/api/middleware"
	"github.com/GriffinCanCode/appshare/internal/domain/gateway"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/id"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
	"github.com/GriffinCanCode/appshare/internal/shared/utils"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	opTimeout = 5 * time.Second
)

// Inbound message types
const (
	MsgJoinStream      = "join_stream"
	MsgLeaveStream     = "leave_stream"
	MsgJoinLiveStream  = "join_live_stream"
	MsgLeaveLiveStream = "leave_live_stream"
	MsgPing            = "ping"
)

var codec = sonic.ConfigStd

// Config configures the WebSocket handler
type Config struct {
	AllowedOrigins []string
	InputRate      float64
	InputBurst     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	// ReadLimit bounds one inbound message; clipboard pushes need the most
	ReadLimit int64
}

// clientMessage is one message from the browser. Input events carry their
// fields at the top level next to the type.
type clientMessage struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id,omitempty"`
	types.InputEvent
}

// Handler upgrades authenticated requests and serves the stream protocol
type Handler struct {
	coord    *gateway.Coordinator
	auth     *middleware.Authenticator
	cfg      Config
	upgrader websocket.Upgrader
	tracer   *tracing.Tracer
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(cfg Config, coord *gateway.Coordinator, auth *middleware.Authenticator, tracer *tracing.Tracer, logger *zap.Logger) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = utils.MaxClipboardSize + utils.MaxMessageSize
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = float64(rate.Inf)
	}
	if cfg.InputBurst <= 0 {
		cfg.InputBurst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		coord:  coord,
		auth:   auth,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// WithMetrics sets the metrics collector
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// HandleConnection authenticates, upgrades and serves one channel until
// the client goes away
func (h *Handler) HandleConnection(c *gin.Context) {
	user, err := h.auth.Authenticate(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Conn{
		id:      id.NewChannelID().String(),
		user:    user,
		ws:      ws,
		timeout: h.cfg.WriteTimeout,
		metrics: h.metrics,
	}
	h.serve(c.Request.Context(), conn)
}

func (h *Handler) serve(ctx context.Context, conn *Conn) {
	var span *tracing.Span
	if h.tracer != nil {
		span, ctx = h.tracer.StartSpan(ctx, "ws.connection")
		span.SetTag("channel", conn.id)
		span.SetTag("user", conn.user)
	}
	logger := tracing.Logger(ctx, h.logger).With(
		zap.String("channel", conn.id),
		zap.String("user", conn.user))

	defer conn.Close()

	if err := h.coord.Connect(ctx, conn); err != nil {
		logger.Warn("Channel registration failed", zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	logger.Info("Channel connected")

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ping(ctx, conn)
	}()

	readErr := h.read(ctx, conn, logger)

	cancel()
	wg.Wait()

	dctx, dcancel := context.WithTimeout(context.Background(), opTimeout)
	defer dcancel()
	if err := h.coord.Disconnect(dctx, conn.id); err != nil {
		logger.Warn("Channel removal failed", zap.Error(err))
	}
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}

	if span != nil {
		if readErr != nil {
			span.SetError(readErr)
		}
		span.Finish()
		h.tracer.Submit(span)
	}
	logger.Info("Channel disconnected")
}

// read runs the inbound loop. It returns nil on a normal close.
func (h *Handler) read(ctx context.Context, conn *Conn, logger *zap.Logger) error {
	ws := conn.ws
	ws.SetReadLimit(h.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.InputRate), h.cfg.InputBurst)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err) {
				logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var msg clientMessage
		if err := codec.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, conn, errorMessage("", apperr.Invalid("message", "", err)))
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}
		h.handle(ctx, conn, limiter, msg, logger)
	}
}

func (h *Handler) handle(ctx context.Context, conn *Conn, limiter *rate.Limiter, msg clientMessage, logger *zap.Logger) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MsgJoinStream:
		if msg.InstanceID == "" {
			err = apperr.Invalid("instance_id", "", errors.New("instance_id is required"))
			break
		}
		_, err = h.coord.JoinStream(opCtx, conn.id, conn.user, msg.InstanceID)
	case MsgJoinLiveStream:
		_, err = h.coord.JoinStream(opCtx, conn.id, conn.user, types.LiveDesktopRoom)
	case MsgLeaveStream, MsgLeaveLiveStream:
		_, err = h.coord.LeaveStream(opCtx, conn.id)
	case MsgPing:
		h.reply(ctx, conn, types.Message{Type: types.MsgPong, Timestamp: time.Now()})
		return
	case string(types.InputMouse), string(types.InputKeyboard), string(types.InputScroll), string(types.InputClipboard):
		if !limiter.Allow() {
			h.reply(ctx, conn, types.Message{
				Type:      types.MsgError,
				Data:      types.ErrorBody{Kind: "rate_limited", Message: "input rate exceeded"},
				Timestamp: time.Now(),
			})
			return
		}
		event := msg.InputEvent
		event.Kind = types.InputKind(msg.Type)
		_, err = h.coord.SendInput(opCtx, conn.id, event)
	default:
		err = apperr.Invalid("message type", msg.Type, errors.New("unknown message type"))
	}

	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			logger.Warn("Message handling failed", zap.String("type", msg.Type), zap.Error(err))
		}
		h.reply(ctx, conn, errorMessage(msg.InstanceID, err))
	}
}

// reply writes directly to the client, ahead of anything still queued in
// the hub
func (h *Handler) reply(ctx context.Context, conn *Conn, msg types.Message) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Send(ctx, msg); err != nil {
		h.logger.Debug("Reply failed", zap.String("channel", conn.id), zap.Error(err))
	}
}

func (h *Handler) ping(ctx context.Context, conn *Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func errorMessage(subject string, err error) types.Message {
	body := types.ErrorBody{
		Kind:    apperr.KindOf(err).String(),
		Message: err.Error(),
		ID:      subject,
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.Limit = appErr.Limit
		if appErr.ID != "" {
			body.ID = appErr.ID
		}
	}
	return types.Message{Type: types.MsgError, Data: body, Timestamp: time.Now()}
}
