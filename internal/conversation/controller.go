// Package conversation owns a chat timeline and sequences invoice uploads
// through it.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/phyntra/backend/internal/models"
	"github.com/phyntra/backend/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultReplyDelay is how long the unhandled-intent reply waits.
const DefaultReplyDelay = time.Second

// timestampLayout renders Message.Timestamp.
const timestampLayout = "3:04:05 PM"

// Uploader submits one file to the extraction service.
type Uploader interface {
	Submit(ctx context.Context, file models.UploadFile) (*models.ExtractionOutcome, error)
}

// ContentLoader returns the stored bytes of the file with the given ID.
type ContentLoader func(id string) ([]byte, error)

// ProgressFunc is called after the outcome of file index (0-based) has been
// appended to the timeline. err is nil on success.
type ProgressFunc func(index, total int, err error)

// State is a point-in-time copy of a conversation.
type State struct {
	Messages     []models.Message `json:"messages"`
	Processing   bool             `json:"processing"`
	PendingInput string           `json:"pendingInput"`
	Current      int              `json:"current,omitempty"` // 1-based file being uploaded, 0 when idle
	Total        int              `json:"total,omitempty"`
}

// Controller owns one conversation. The timeline is append-only.
//
// Only one UploadFiles call should run at a time; the controller does not
// enforce it. The processing flag is derived from a count of in-flight
// requests, so it cannot drop to false while a sibling upload is running.
type Controller struct {
	mu           sync.RWMutex
	messages     []models.Message
	pendingInput string
	inFlight     int
	current      int
	total        int
	closed       bool

	uploader   Uploader
	load       ContentLoader
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
	replyDelay time.Duration

	timers  map[*time.Timer]struct{}
	replies sync.WaitGroup

	subscribers map[int]chan struct{}
	nextSubID   int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithReplyDelay overrides DefaultReplyDelay.
func WithReplyDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.replyDelay = d
	}
}

// WithContentLoader sets where files that carry only a stored ID are read
// from before they are submitted.
func WithContentLoader(load ContentLoader) Option {
	return func(c *Controller) {
		c.load = load
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a conversation seeded with the welcome message.
func New(uploader Uploader, opts ...Option) *Controller {
	c := &Controller{
		uploader:    uploader,
		log:         zerolog.Nop(),
		now:         time.Now,
		newID:       func() string { return ulid.Make().String() },
		replyDelay:  DefaultReplyDelay,
		timers:      make(map[*time.Timer]struct{}),
		subscribers: make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.append(models.Message{Type: models.MessageTypeBot, Content: WelcomeText})
	return c
}

// append stamps msg and adds it to the timeline. It returns false once the
// conversation is closed.
func (c *Controller) append(msg models.Message) (models.Message, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return msg, false
	}
	now := c.now()
	msg.ID = c.newID()
	msg.CreatedAt = now
	msg.Timestamp = now.Format(timestampLayout)
	c.messages = append(c.messages, msg)
	subs := make([]chan struct{}, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	observability.MessagesAppendedTotal.WithLabelValues(string(msg.Type)).Inc()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return msg, true
}

// SendTextMessage appends text as a user message and schedules the
// unhandled-intent reply. Empty or whitespace-only text is ignored and
// false is returned. The processing flag is not touched.
func (c *Controller) SendTextMessage(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if _, ok := c.append(models.Message{Type: models.MessageTypeUser, Content: text}); !ok {
		return false
	}

	c.mu.Lock()
	c.pendingInput = ""
	c.replies.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(c.replyDelay, func() {
		defer c.replies.Done()
		c.mu.Lock()
		delete(c.timers, timer)
		c.mu.Unlock()
		c.append(models.Message{Type: models.MessageTypeBot, Content: UnhandledIntentText})
	})
	c.timers[timer] = struct{}{}
	c.mu.Unlock()
	return true
}

// UploadFiles submits files one at a time, in order. Each file adds an
// announcement, a processing notice and exactly one result message. A
// failing file never stops the rest of the batch.
func (c *Controller) UploadFiles(ctx context.Context, files []models.UploadFile, progress ProgressFunc) {
	total := len(files)
	if total == 0 {
		return
	}

	c.mu.Lock()
	c.total = total
	c.mu.Unlock()

	for i, file := range files {
		err := c.uploadOne(ctx, i, file)
		if progress != nil {
			progress(i, total, err)
		}
	}

	c.mu.Lock()
	c.current, c.total = 0, 0
	c.mu.Unlock()
}

func (c *Controller) uploadOne(ctx context.Context, index int, file models.UploadFile) (err error) {
	log := c.log.With().Str("file", file.Name).Int("index", index).Logger()

	c.append(models.Message{
		Type:       models.MessageTypeUser,
		Content:    announceText(file.Name),
		Attachment: &models.Attachment{Kind: models.AttachmentFile, File: file.Info()},
	})
	c.append(models.Message{
		Type:       models.MessageTypeBot,
		Content:    processingText(file.Name),
		Processing: true,
	})

	c.mu.Lock()
	c.inFlight++
	c.current = index + 1
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if len(file.Content) == 0 && file.ID != "" && c.load != nil {
		content, err := c.load(file.ID)
		if err != nil {
			log.Warn().Err(err).Msg("reading stored file failed")
			c.append(models.Message{
				Type:    models.MessageTypeBot,
				Content: FormatFailure(file.Name, fmt.Errorf("could not read uploaded file: %w", err)),
			})
			return err
		}
		file.Content = content
	}

	log.Info().Msg("uploading invoice")
	outcome, err := c.uploader.Submit(ctx, file)
	if err != nil {
		log.Warn().Err(err).Msg("invoice upload failed")
		c.append(models.Message{
			Type:    models.MessageTypeBot,
			Content: FormatFailure(file.Name, err),
		})
		return err
	}

	invoice := outcome.Data
	c.append(models.Message{
		Type:    models.MessageTypeBot,
		Content: FormatSummary(file.Name, invoice),
		Attachment: &models.Attachment{
			Kind:     models.AttachmentInvoice,
			Invoice:  &invoice,
			FileHash: outcome.FileHash,
		},
	})
	log.Info().Str("file_hash", outcome.FileHash).Int("items", len(invoice.Items)).Msg("invoice extracted")
	return nil
}

// SetPendingInput records the text the user is composing.
func (c *Controller) SetPendingInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingInput = text
}

// PendingInput returns the text the user is composing.
func (c *Controller) PendingInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingInput
}

// Processing reports whether an upload request is in flight.
func (c *Controller) Processing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inFlight > 0
}

// Messages returns a copy of the timeline.
func (c *Controller) Messages() []models.Message {
	return c.MessagesSince(0)
}

// MessagesSince returns a copy of the timeline from position n on.
func (c *Controller) MessagesSince(n int) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(c.messages) {
		return []models.Message{}
	}
	out := make([]models.Message, len(c.messages)-n)
	copy(out, c.messages[n:])
	return out
}

// Len returns the number of messages in the timeline.
func (c *Controller) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// State returns a snapshot of the conversation.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := make([]models.Message, len(c.messages))
	copy(msgs, c.messages)
	return State{
		Messages:     msgs,
		Processing:   c.inFlight > 0,
		PendingInput: c.pendingInput,
		Current:      c.current,
		Total:        c.total,
	}
}

// Subscribe returns a channel that receives a signal after messages are
// appended, and a function that cancels the subscription. Signals
// coalesce; read the timeline with MessagesSince to catch up.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	ch := make(chan struct{}, 1)
	c.subscribers[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// WaitReplies blocks until every scheduled unhandled-intent reply has been
// appended or cancelled.
func (c *Controller) WaitReplies() {
	c.replies.Wait()
}

// Close ends the conversation: pending replies are cancelled and nothing
// is appended afterwards. An upload that is still running completes
// against the service but its messages are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stopped := 0
	for t := range c.timers {
		if t.Stop() {
			stopped++
		}
		delete(c.timers, t)
	}
	c.mu.Unlock()

	for i := 0; i < stopped; i++ {
		c.replies.Done()
	}
}
