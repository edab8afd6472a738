// Package audit provides a buffered, asynchronous security-event logger for the gateway's
// admission and circuit-breaker layers.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType enumerates the gateway-specific events worth auditing. Unlike a general-purpose
// security audit log, this is scoped to the handful of events the router itself produces.
type EventType string

const (
	AuthFailure    EventType = "auth_failure"
	RateLimited    EventType = "rate_limited"
	BreakerOpened  EventType = "breaker_opened"
	BreakerClosed  EventType = "breaker_closed"
	PolicyRejected EventType = "policy_rejected"
)

// Event is a single audit record.
type Event struct {
	Timestamp time.Time
	Type      EventType
	ClientIP  string
	Endpoint  string
	Message   string
	Details   map[string]interface{}
}

// Logger buffers events on a channel and flushes them to logrus on a ticker, so a burst of
// denials never blocks the request path.
type Logger struct {
	logger *logrus.Logger
	buffer chan Event
	stop   chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	count int64
}

const (
	bufferSize    = 1000
	flushInterval = 5 * time.Second
)

// NewLogger starts the background flush loop.
func NewLogger(logger *logrus.Logger) *Logger {
	l := &Logger{
		logger: logger,
		buffer: make(chan Event, bufferSize),
		stop:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Log enqueues an event, dropping it (with a warning) if the buffer is saturated.
func (l *Logger) Log(eventType EventType, clientIP, endpoint, message string, details map[string]interface{}) {
	event := Event{
		Timestamp: time.Now(),
		Type:      eventType,
		ClientIP:  clientIP,
		Endpoint:  endpoint,
		Message:   message,
		Details:   details,
	}

	select {
	case l.buffer <- event:
		l.mu.Lock()
		l.count++
		l.mu.Unlock()
	default:
		l.logger.Warn("audit buffer full, dropping event")
	}
}

// Count returns the number of events accepted so far.
func (l *Logger) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Stop drains the buffer and terminates the flush loop.
func (l *Logger) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	pending := make([]Event, 0, 64)

	flush := func() {
		for _, e := range pending {
			l.write(e)
		}
		pending = pending[:0]
	}

	for {
		select {
		case e := <-l.buffer:
			pending = append(pending, e)
			if len(pending) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stop:
			flush()
			for {
				select {
				case e := <-l.buffer:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(e Event) {
	entry := l.logger.WithFields(logrus.Fields{
		"audit_event": e.Type,
		"client_ip":   e.ClientIP,
		"endpoint":    e.Endpoint,
		"timestamp":   e.Timestamp,
	})
	for k, v := range e.Details {
		entry = entry.WithField(fmt.Sprintf("detail_%s", k), v)
	}

	switch e.Type {
	case BreakerOpened:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
}
