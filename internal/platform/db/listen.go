package db

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Notification channels emitted by the triggers in migrations/. The payload
// of every notification is the center_id of the changed row.
const (
	ChanPatients    = "patients_changed"
	ChanTherapists  = "therapists_changed"
	ChanSessions    = "sessions_changed"
	ChanAssessments = "assessments_changed"
	ChanAlerts      = "alerts_changed"
)

// AllChannels lists every change channel the listener should attach to.
func AllChannels() []string {
	return []string{ChanPatients, ChanTherapists, ChanSessions, ChanAssessments, ChanAlerts}
}

// Handler receives the payload of one notification.
type Handler func(payload string)

// Listener owns a single dedicated connection that LISTENs on a fixed set of
// channels and fans incoming notifications out to subscribers. Repositories
// build their change feeds on top of it: on every notification for their
// channel they re-query the full matching set.
type Listener struct {
	pool     *pgxpool.Pool
	logger   zerolog.Logger
	channels []string

	mu     sync.Mutex
	subs   map[string]map[int]Handler
	nextID int
}

// NewListener creates a Listener for the given channels. Call Start to begin
// receiving notifications.
func NewListener(pool *pgxpool.Pool, logger zerolog.Logger, channels ...string) *Listener {
	return &Listener{
		pool:     pool,
		logger:   logger.With().Str("component", "db_listener").Logger(),
		channels: channels,
		subs:     make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for one channel and returns a cancel function
// that removes it. Cancel is safe to call more than once.
func (l *Listener) Subscribe(channel string, h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subs[channel] == nil {
		l.subs[channel] = make(map[int]Handler)
	}
	id := l.nextID
	l.nextID++
	l.subs[channel][id] = h

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs[channel], id)
	}
}

// Start runs the listen loop in a background goroutine until ctx is
// cancelled. Connection failures are retried with a fixed backoff; a retry
// cannot lose state because subscribers always re-query on notification.
func (l *Listener) Start(ctx context.Context) {
	go func() {
		for {
			if err := l.listen(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error().Err(err).Msg("listen loop failed, reconnecting")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}()
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	for _, ch := range l.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+sanitizeIdent(ch)); err != nil {
			return err
		}
	}
	l.logger.Info().Strs("channels", l.channels).Msg("listening for record changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(n.Channel, n.Payload)
	}
}

func (l *Listener) dispatch(channel, payload string) {
	l.mu.Lock()
	handlers := make([]Handler, 0, len(l.subs[channel]))
	for _, h := range l.subs[channel] {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		go h(payload)
	}
}

// sanitizeIdent keeps only characters legal in an unquoted identifier so a
// channel name can never smuggle SQL into the LISTEN statement.
func sanitizeIdent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		}
	}
	return string(out)
}
