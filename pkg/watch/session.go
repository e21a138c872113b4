package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/model"
	"github.com/open-feature/flagwatch/pkg/provider"
	"github.com/open-feature/flagwatch/pkg/variation"
)

const (
	DefaultMaxConnectionTime = 60 * 30
	DefaultPingSeconds       = 30
	DefaultTick              = time.Second
	DefaultHandshakeTimeout  = 30 * time.Second

	TimeoutReason   = "timed out"
	ShutdownReason  = "server shutting down"
	HandshakeReason = "invalid handshake"
)

type Config struct {
	// MaxConnectionTime is the number of ticks after which the session is
	// closed by the server.
	MaxConnectionTime int
	// PingSeconds is the number of ticks between keep-alive markers.
	PingSeconds int
	// Tick is the polling period.
	Tick time.Duration
	// HandshakeTimeout bounds the wait for the first client message.
	HandshakeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnectionTime: DefaultMaxConnectionTime,
		PingSeconds:       DefaultPingSeconds,
		Tick:              DefaultTick,
		HandshakeTimeout:  DefaultHandshakeTimeout,
	}
}

// Result summarises a finished session.
type Result struct {
	Outcome       Outcome
	ConnectionID  string
	Ticks         int
	Notifications int
	Pings         int
}

// Session watches one flag for one target over one connection. Run drives
// it from handshake to close; a Session is not reusable.
type Session struct {
	FlagID   string
	TargetID string

	conn     Conn
	provider provider.IProvider
	config   Config
	logger   *log.Entry

	connectionID string
	target       model.Target
	evaluate     variation.Evaluation
	elapsed      int
	lastValue    interface{}

	notifications int
	pings         int
}

func NewSession(flagID, targetID string, conn Conn, p provider.IProvider, config Config, logger *log.Entry) *Session {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	defaults := DefaultConfig()
	if config.MaxConnectionTime <= 0 {
		config.MaxConnectionTime = defaults.MaxConnectionTime
	}
	if config.Tick <= 0 {
		config.Tick = defaults.Tick
	}
	return &Session{
		FlagID:   flagID,
		TargetID: targetID,
		conn:     conn,
		provider: p,
		config:   config,
		logger:   logger,
	}
}

// Run performs the handshake and watches the flag until the peer leaves, the
// session times out, ctx is cancelled or a fault occurs. Only faults and
// handshake failures are returned as errors.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if err := s.handshake(); err != nil {
		s.logger.WithError(err).Warn("Rejected watch handshake")
		if cerr := s.conn.Close(websocket.CloseUnsupportedData, HandshakeReason); cerr != nil && !errors.Is(cerr, ErrDisconnected) {
			s.logger.WithError(cerr).Debug("unable to close connection after handshake failure")
		}
		return s.result(HandshakeFailed), err
	}

	outcome, err := s.watch(ctx)
	return s.result(outcome), err
}

func (s *Session) handshake() error {
	var deadline time.Time
	if s.config.HandshakeTimeout > 0 {
		deadline = time.Now().Add(s.config.HandshakeTimeout)
	}
	data, err := s.conn.Receive(deadline)
	if err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	req, err := model.ParseFlagRequest(data)
	if err != nil {
		return fmt.Errorf("parsing handshake: %w", err)
	}

	s.target = variation.ResolveTarget(s.TargetID, req)
	s.evaluate = variation.Resolve(req).Bind(s.provider)
	s.connectionID = uuid.New().String()
	s.logger = s.logger.WithFields(log.Fields{
		"connection_id":     s.connectionID,
		"flag_id":           s.FlagID,
		"target_id":         s.TargetID,
		"target_attributes": s.target.Attributes,
	})
	return nil
}

func (s *Session) watch(ctx context.Context) (Outcome, error) {
	value, err := s.evaluate(s.FlagID, s.target)
	if err != nil {
		return s.fault(fmt.Errorf("evaluating flag: %w", err))
	}
	s.lastValue = value

	s.logger.WithField("flag_value", value).Info("Starting watch on feature flag")
	if err := s.sendUpdate(model.MessageInitiated, value, nil); err != nil {
		return s.sendFailed(err)
	}

	disconnected := s.conn.Disconnected()
	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for s.elapsed < s.config.MaxConnectionTime {
		select {
		case <-disconnected:
			return s.disconnected()
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C:
		}
		// a disconnect or shutdown seen together with the tick wins
		select {
		case <-disconnected:
			return s.disconnected()
		case <-ctx.Done():
			return s.shutdown()
		default:
		}

		s.elapsed++
		next, err := s.evaluate(s.FlagID, s.target)
		if err != nil {
			return s.fault(fmt.Errorf("evaluating flag at tick %d: %w", s.elapsed, err))
		}
		if next != s.lastValue {
			previous := s.lastValue
			s.lastValue = next
			if err := s.sendUpdate(model.MessageFlagChanged, next, &previous); err != nil {
				return s.sendFailed(err)
			}
		}

		if s.config.PingSeconds > 0 && s.elapsed%s.config.PingSeconds == 0 {
			s.logger.WithField("elapsed", s.elapsed).Debug("Checking connection")
			if err := s.conn.Send(model.Ping); err != nil {
				return s.sendFailed(err)
			}
			s.pings++
		}
	}

	if err := s.conn.Close(websocket.CloseNormalClosure, TimeoutReason); err != nil {
		return s.sendFailed(err)
	}
	s.logger.WithField("elapsed", s.elapsed).Warn("Closed connection due to timeout.")
	return ClosedTimeout, nil
}

func (s *Session) sendUpdate(message string, current interface{}, previous *interface{}) error {
	entry := s.logger.WithField("flag_value", current)
	msg := model.FlagWatchMessage{
		Message:      message,
		ConnectionID: s.connectionID,
		State:        s.snapshot(current),
	}
	if previous != nil {
		state := s.snapshot(*previous)
		msg.PreviousState = &state
		entry = entry.WithField("previous_flag_value", *previous)
	}
	entry.Info("Sending update to watched feature flag")

	if err := s.conn.Send(msg); err != nil {
		return err
	}
	if previous != nil {
		s.notifications++
	}
	return nil
}

func (s *Session) snapshot(value interface{}) model.FlagState {
	return model.FlagState{
		FlagID:           s.FlagID,
		FlagValue:        value,
		TargetID:         s.TargetID,
		TargetAttributes: s.target.Attributes,
	}
}

func (s *Session) sendFailed(err error) (Outcome, error) {
	if errors.Is(err, ErrDisconnected) {
		return s.disconnected()
	}
	return s.fault(fmt.Errorf("sending to client: %w", err))
}

func (s *Session) disconnected() (Outcome, error) {
	s.logger.WithField("elapsed", s.elapsed).Info("Closing connection to watched feature flag")
	return ClosedNormal, nil
}

func (s *Session) shutdown() (Outcome, error) {
	if err := s.conn.Close(websocket.CloseGoingAway, ShutdownReason); err != nil && !errors.Is(err, ErrDisconnected) {
		s.logger.WithError(err).Debug("unable to close connection on shutdown")
	}
	s.logger.WithField("elapsed", s.elapsed).Info("Closed connection for shutdown")
	return ClosedShutdown, nil
}

func (s *Session) fault(err error) (Outcome, error) {
	return ClosedError, err
}

func (s *Session) result(outcome Outcome) Result {
	return Result{
		Outcome:       outcome,
		ConnectionID:  s.connectionID,
		Ticks:         s.elapsed,
		Notifications: s.notifications,
		Pings:         s.pings,
	}
}
