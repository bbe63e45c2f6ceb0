package notify

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ohboy/herosync/pkg/logger"
	"github.com/ohboy/herosync/pkg/metrics"
)

// ErrDisconnected marks a change-channel outage. Non-fatal: replication
// falls back to interval polling while the subscriber reconnects.
var ErrDisconnected = errors.New("change channel disconnected")

const maxReconnectBackoff = 30 * time.Second

// SubscriberConfig controls the client side of the change channel.
type SubscriberConfig struct {
	// URL of the websocket endpoint (ws:// or wss://).
	URL string
	// Token is an optional bearer token sent on the upgrade request.
	Token string
	// ReconnectAttempts caps reconnects; 0 means retry forever.
	ReconnectAttempts int
	// InactivityTimeout closes a connection that delivered neither events
	// nor pings for this long.
	InactivityTimeout time.Duration
	// ConnectTimeout bounds the websocket handshake.
	ConnectTimeout time.Duration
}

// Subscriber maintains a persistent connection to the server's changed
// endpoint and hands every event to onEvent. Connection failures go to
// onError wrapped in ErrDisconnected and trigger bounded-backoff reconnects.
type Subscriber struct {
	cfg     SubscriberConfig
	onEvent func(Event)
	onError func(error)

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSubscriber(cfg SubscriberConfig, onEvent func(Event), onError func(error)) *Subscriber {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Subscriber{
		cfg:     cfg,
		onEvent: onEvent,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// Start launches the subscription loop.
func (s *Subscriber) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop closes the current connection and waits for the loop to exit.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Subscriber) loop() {
	defer s.wg.Done()

	backoff := time.Second
	for attempt := 0; ; attempt++ {
		select {
		case <-s.done:
			return
		default:
		}
		if s.cfg.ReconnectAttempts > 0 && attempt >= s.cfg.ReconnectAttempts {
			s.report(fmt.Errorf("%w: gave up after %d attempts", ErrDisconnected, attempt))
			return
		}
		if attempt > 0 {
			metrics.ChannelReconnects.Inc()
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
		}

		dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
		var hdr http.Header
		if s.cfg.Token != "" {
			hdr = http.Header{"Authorization": []string{"Bearer " + s.cfg.Token}}
		}
		conn, _, err := dialer.Dial(s.cfg.URL, hdr)
		if err != nil {
			s.report(fmt.Errorf("%w: dial %s: %v", ErrDisconnected, s.cfg.URL, err))
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		logger.Infof("changed: connected to %s", s.cfg.URL)
		backoff = time.Second

		s.read(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}
}

// read consumes events until the connection breaks or the inactivity
// deadline passes. Server pings extend the deadline.
func (s *Subscriber) read(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.InactivityTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.InactivityTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-s.done:
			default:
				s.report(fmt.Errorf("%w: read: %v", ErrDisconnected, err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.InactivityTimeout))
		s.onEvent(ev)
	}
}

func (s *Subscriber) report(err error) {
	logger.Warnf("changed: %v", err)
	if s.onError != nil {
		s.onError(err)
	}
}
