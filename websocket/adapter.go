package websocket

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"taskflow-realtime/domain"
)

type Options struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	RateBurst      int
	RateInterval   time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 4096,
		RateBurst:      20,
		RateInterval:   time.Second,
	}
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Conn adapts a gorilla connection to domain.Connection. Outbound payloads
// go through a bounded queue drained by the write pump; the queue is never
// closed, done signals shutdown instead.
type Conn struct {
	id          string
	ws          *websocket.Conn
	send        chan []byte
	done        chan struct{}
	state       atomic.Int32
	started     atomic.Bool
	closeOnce   sync.Once
	finishOnce  sync.Once
	limiter     *rate.Limiter
	opts        Options
	broadcaster domain.Broadcaster
	handler     domain.MessageHandler
}

func NewConn(id string, ws *websocket.Conn, b domain.Broadcaster, h domain.MessageHandler, opts Options) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	c := &Conn{
		id:          id,
		ws:          ws,
		send:        make(chan []byte, opts.SendBuffer),
		done:        make(chan struct{}),
		opts:        opts,
		broadcaster: b,
		handler:     h,
	}
	if opts.RateBurst > 0 && opts.RateInterval > 0 {
		perSecond := float64(opts.RateBurst) / opts.RateInterval.Seconds()
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), opts.RateBurst)
	}
	c.state.Store(int32(domain.StateConnecting))
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() domain.ConnState {
	return domain.ConnState(c.state.Load())
}

// Send queues data without blocking.
func (c *Conn) Send(data []byte) error {
	if c.State() != domain.StateOpen {
		return domain.ErrConnectionClosed
	}
	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// Close moves the connection to Closing and stops both pumps. Queued
// payloads are discarded. Safe to call any number of times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(domain.StateClosing))
		close(c.done)
		if !c.started.Load() {
			c.finish()
		}
	})
	return nil
}

func (c *Conn) finish() {
	c.finishOnce.Do(func() {
		if c.ws != nil {
			if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
				slog.Debug("socket close error", "clientId", c.id, "error", err)
			}
		}
		c.state.Store(int32(domain.StateClosed))
	})
}

// Start admits the connection to the hub and launches its pumps. A
// connection the hub refuses is closed immediately.
func (c *Conn) Start() error {
	if !c.state.CompareAndSwap(int32(domain.StateConnecting), int32(domain.StateOpen)) {
		return domain.ErrConnectionClosed
	}
	if _, err := c.broadcaster.Admit(c); err != nil {
		c.Close()
		return fmt.Errorf("admit %s: %w", c.id, err)
	}

	c.started.Store(true)
	go c.writePump()
	go c.readPump()

	c.handler.Connected(c)
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		c.broadcaster.Remove(c.id)
		c.Close()
	}()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Warn("read error", "clientId", c.id, "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			slog.Warn("rate limit exceeded, message dropped", "clientId", c.id)
			continue
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.finish()
	}()

	for {
		select {
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			return
		case message := <-c.send:
			if c.State() != domain.StateOpen {
				continue
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.writeFailed(err)
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) writeFailed(err error) {
	if !isExpectedCloseError(err) {
		slog.Warn("write error", "clientId", c.id, "error", err)
	}
	c.broadcaster.Remove(c.id)
	c.Close()
}
