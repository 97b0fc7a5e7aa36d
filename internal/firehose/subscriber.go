package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	cursorServiceName = "jetstream"
	statsInterval     = 30 * time.Second
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream. Only post events are needed for classification.
var wantedCollections = []string{
	postCollection,
}

// Processor is the part of domain.FeedService the subscriber drives.
type Processor interface {
	ProcessNewPost(ctx context.Context, incoming *domain.IncomingPost) (bool, error)
	ProcessDeletePost(ctx context.Context, uri string) error
	GetCursor(ctx context.Context, service string) (int64, error)
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// Config controls the Jetstream connection and cursor persistence.
type Config struct {
	URL string

	// The stream position is saved after BatchSize events or BatchInterval,
	// whichever comes first, and once more when the subscriber stops.
	BatchSize     int
	BatchInterval time.Duration

	ReconnectBackoff time.Duration

	// DrainTimeout bounds how long an event already being processed may
	// keep running after shutdown starts. An event that does not finish in
	// time is not acknowledged and is replayed after restart.
	DrainTimeout time.Duration
}

// Subscriber connects to the Jetstream firehose and processes events.
type Subscriber struct {
	cfg       Config
	processor Processor
	logger    *slog.Logger
}

// NewSubscriber creates a new firehose subscriber.
func NewSubscriber(cfg Config, processor Processor, logger *slog.Logger) *Subscriber {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 5 * time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &Subscriber{
		cfg:       cfg,
		processor: processor,
		logger:    logger.With("component", "firehose"),
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reconnects.Inc()
		s.logger.Error("firehose connection error, reconnecting", "error", err, "backoff", s.cfg.ReconnectBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectBackoff):
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// cursorBatch tracks the stream position that still needs persisting.
type cursorBatch struct {
	latest   int64
	saved    int64
	pending  int
	lastSave time.Time
}

func (b *cursorBatch) observe(timeUS int64) {
	if timeUS > b.latest {
		b.latest = timeUS
	}
	b.pending++
}

func (b *cursorBatch) due(size int, interval time.Duration, now time.Time) bool {
	return b.pending > 0 && (b.pending >= size || now.Sub(b.lastSave) >= interval)
}

func (s *Subscriber) flush(ctx context.Context, b *cursorBatch) {
	if b.latest == 0 || b.latest == b.saved {
		b.pending = 0
		return
	}
	if err := s.processor.UpdateCursor(ctx, cursorServiceName, b.latest); err != nil {
		s.logger.Error("failed to save cursor", "cursor", b.latest, "error", err)
		return
	}
	cursorSaves.Inc()
	b.saved = b.latest
	b.pending = 0
	b.lastSave = time.Now()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.processor.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return err
	}
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	s.logger.Info("connected to firehose")

	batch := &cursorBatch{saved: cursor, lastSave: time.Now()}
	defer s.flush(context.WithoutCancel(ctx), batch)

	var eventsReceived, commitsReceived, postsMatched int64
	lastStatsLog := time.Now()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		eventsReceived++
		if err := s.handleMessage(ctx, message, batch, &commitsReceived, &postsMatched); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if time.Since(lastStatsLog) >= statsInterval {
			s.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"commits_received", commitsReceived,
				"posts_matched", postsMatched,
				"cursor", batch.latest,
			)
			lastStatsLog = time.Now()
		}

		if batch.due(s.cfg.BatchSize, s.cfg.BatchInterval, time.Now()) {
			s.flush(ctx, batch)
		}
	}
}

// handleMessage processes one frame. The event runs on a context that
// survives shutdown for up to DrainTimeout, and its position is only handed
// to batch once processing has finished. An event cut short returns
// errEventAbandoned so nothing after it is acknowledged either.
func (s *Subscriber) handleMessage(ctx context.Context, message []byte, batch *cursorBatch, commits, matched *int64) error {
	event, err := parseEvent(message)
	if err != nil {
		eventsProcessed.WithLabelValues("parse_error").Inc()
		s.logger.Error("failed to parse event", "error", err)
		return nil
	}

	if event.Kind != "commit" || event.Commit == nil {
		eventsProcessed.WithLabelValues("ignored").Inc()
		batch.observe(event.TimeUS)
		return nil
	}
	*commits++

	eventCtx, cancel := s.eventContext(ctx)
	defer cancel()

	ok, err := s.handleCommit(eventCtx, event)
	if eventCtx.Err() != nil {
		eventsProcessed.WithLabelValues("abandoned").Inc()
		s.logger.Warn("event did not finish before shutdown, leaving it unacknowledged",
			"did", event.DID, "rkey", event.Commit.RKey, "time_us", event.TimeUS)
		return fmt.Errorf("%w: time_us %d", errEventAbandoned, event.TimeUS)
	}
	batch.observe(event.TimeUS)

	switch {
	case err != nil:
		eventsProcessed.WithLabelValues("error").Inc()
		s.logger.Error("failed to handle commit", "did", event.DID, "rkey", event.Commit.RKey, "error", err)
	case ok:
		*matched++
		eventsProcessed.WithLabelValues("accepted").Inc()
	default:
		eventsProcessed.WithLabelValues("processed").Inc()
	}
	return nil
}

// eventContext detaches from ctx so shutdown does not abort an event midway,
// and once ctx is done gives the event DrainTimeout to finish.
func (s *Subscriber) eventContext(ctx context.Context) (context.Context, context.CancelFunc) {
	eventCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-eventCtx.Done():
		}
	})
	return eventCtx, func() {
		stop()
		cancel()
	}
}

var errEventAbandoned = errors.New("event abandoned")

var errNoRecord = errors.New("create without record")

func (s *Subscriber) handleCommit(ctx context.Context, event *jetstreamEvent) (matched bool, err error) {
	commit := event.Commit
	if commit.Collection != postCollection {
		return false, nil
	}

	uri, err := postURI(event)
	if err != nil {
		return false, err
	}

	switch commit.Operation {
	case "create":
		if len(commit.Record) == 0 {
			return false, errNoRecord
		}
		record, err := decodePost(commit.Record)
		if err != nil {
			return false, err
		}

		incoming := &domain.IncomingPost{
			URI:       uri,
			CID:       commit.CID,
			AuthorDID: event.DID,
			Record:    record,
		}

		matched, err := s.processor.ProcessNewPost(ctx, incoming)
		if err != nil {
			return false, err
		}

		if matched {
			s.logger.Info("accepted post",
				"uri", uri,
				"text_preview", truncate(record.Text, 100),
			)
		}
		return matched, nil

	case "delete":
		return false, s.processor.ProcessDeletePost(ctx, uri)

	default:
		return false, nil
	}
}

// truncate returns the first n runes of s, appending "..." if truncated.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
