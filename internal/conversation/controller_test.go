package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phyntra/backend/internal/extraction"
	"github.com/phyntra/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploader answers Submit from a per-file table and records what the
// controller looked like while each request was in flight.
type fakeUploader struct {
	mu         sync.Mutex
	ctrl       *Controller
	results    map[string]*models.ExtractionOutcome
	errs       map[string]error
	calls      []string
	processing []bool
	lens       []int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		results: make(map[string]*models.ExtractionOutcome),
		errs:    make(map[string]error),
	}
}

func (f *fakeUploader) Submit(ctx context.Context, file models.UploadFile) (*models.ExtractionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, file.Name)
	if f.ctrl != nil {
		f.processing = append(f.processing, f.ctrl.Processing())
		f.lens = append(f.lens, f.ctrl.Len())
	}
	if err, ok := f.errs[file.Name]; ok {
		return nil, err
	}
	if out, ok := f.results[file.Name]; ok {
		return out, nil
	}
	return &models.ExtractionOutcome{FileHash: "hash-" + file.Name}, nil
}

func newTestController(t *testing.T, up *fakeUploader) *Controller {
	t.Helper()
	c := New(up, WithReplyDelay(10*time.Millisecond))
	up.ctrl = c
	t.Cleanup(c.Close)
	return c
}

func files(names ...string) []models.UploadFile {
	out := make([]models.UploadFile, len(names))
	for i, n := range names {
		out[i] = models.UploadFile{ID: "id-" + n, Name: n, ContentType: "application/pdf", Content: []byte(n)}
	}
	return out
}

func TestNew_SeedsWelcomeMessage(t *testing.T) {
	c := newTestController(t, newFakeUploader())

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageTypeBot, msgs[0].Type)
	assert.Equal(t, WelcomeText, msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)
	assert.NotEmpty(t, msgs[0].Timestamp)
	assert.False(t, c.Processing())
}

func TestSendTextMessage(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		accepted bool
	}{
		{name: "plain text", text: "hello", accepted: true},
		{name: "padded text", text: "  what now?  ", accepted: true},
		{name: "empty", text: "", accepted: false},
		{name: "whitespace only", text: " \t\n ", accepted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, newFakeUploader())
			c.SetPendingInput(tt.text)

			got := c.SendTextMessage(tt.text)
			c.WaitReplies()

			assert.Equal(t, tt.accepted, got)
			assert.False(t, c.Processing())
			msgs := c.Messages()
			if !tt.accepted {
				assert.Len(t, msgs, 1)
				assert.Equal(t, tt.text, c.PendingInput())
				return
			}
			require.Len(t, msgs, 3)
			assert.Equal(t, models.MessageTypeUser, msgs[1].Type)
			assert.Equal(t, strings.TrimSpace(tt.text), msgs[1].Content)
			assert.Equal(t, models.MessageTypeBot, msgs[2].Type)
			assert.Equal(t, UnhandledIntentText, msgs[2].Content)
			assert.Empty(t, c.PendingInput())
		})
	}
}

func TestSendTextMessage_ReplyIsDelayed(t *testing.T) {
	c := New(newFakeUploader(), WithReplyDelay(time.Hour))
	defer c.Close()

	require.True(t, c.SendTextMessage("hi"))
	assert.Equal(t, 2, c.Len())
}

func TestUploadFiles_SequentialOrdering(t *testing.T) {
	up := newFakeUploader()
	c := newTestController(t, up)

	var progress []int
	c.UploadFiles(context.Background(), files("a.pdf", "b.png", "c.jpg"), func(index, total int, err error) {
		assert.Equal(t, 3, total)
		assert.NoError(t, err)
		assert.False(t, c.Processing(), "processing must be reset once the outcome is recorded")
		progress = append(progress, index)
	})

	assert.Equal(t, []string{"a.pdf", "b.png", "c.jpg"}, up.calls)
	assert.Equal(t, []int{0, 1, 2}, progress)
	assert.Equal(t, []bool{true, true, true}, up.processing)
	// welcome + 3 per completed file, plus the two notices of the current one
	assert.Equal(t, []int{3, 6, 9}, up.lens)
	assert.False(t, c.Processing())

	msgs := c.Messages()
	require.Len(t, msgs, 1+3*3)
	for i, name := range []string{"a.pdf", "b.png", "c.jpg"} {
		announce, notice, result := msgs[1+3*i], msgs[2+3*i], msgs[3+3*i]

		assert.Equal(t, models.MessageTypeUser, announce.Type)
		assert.Equal(t, "📄 Uploaded: "+name, announce.Content)
		require.NotNil(t, announce.Attachment)
		assert.Equal(t, models.AttachmentFile, announce.Attachment.Kind)
		assert.Equal(t, "id-"+name, announce.Attachment.File.ID)

		assert.Equal(t, models.MessageTypeBot, notice.Type)
		assert.True(t, notice.Processing)
		assert.Equal(t, "🔄 Processing "+name+"... Extracting invoice data now.", notice.Content)

		assert.Equal(t, models.MessageTypeBot, result.Type)
		assert.False(t, result.Processing)
		require.NotNil(t, result.Attachment)
		assert.Equal(t, models.AttachmentInvoice, result.Attachment.Kind)
		assert.Equal(t, "hash-"+name, result.Attachment.FileHash)
	}
}

func TestUploadFiles_FailureDoesNotAbortQueue(t *testing.T) {
	up := newFakeUploader()
	up.errs["bad.pdf"] = &extraction.UploadError{Kind: extraction.KindService, Message: "Processing failed"}
	c := newTestController(t, up)

	var errs []error
	c.UploadFiles(context.Background(), files("bad.pdf", "good.pdf"), func(_, _ int, err error) {
		errs = append(errs, err)
	})

	require.Len(t, errs, 2)
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])

	msgs := c.Messages()
	require.Len(t, msgs, 7)
	assert.Contains(t, msgs[3].Content, "Processing failed")
	assert.Contains(t, msgs[3].Content, "❌ Failed to process bad.pdf.")
	assert.True(t, strings.HasSuffix(msgs[3].Content, "Please try again with a clearer image or different format."))
	assert.Nil(t, msgs[3].Attachment)
	assert.Contains(t, msgs[6].Content, "✅ Successfully extracted data from good.pdf!")
	assert.False(t, c.Processing())
}

func TestUploadFiles_EmptyListIsNoop(t *testing.T) {
	up := newFakeUploader()
	c := newTestController(t, up)

	c.UploadFiles(context.Background(), nil, nil)

	assert.Equal(t, 1, c.Len())
	assert.Empty(t, up.calls)
}

func TestUploadFiles_LineItemSummary(t *testing.T) {
	up := newFakeUploader()
	up.results["inv.pdf"] = &models.ExtractionOutcome{
		FileHash: "f00d",
		Data: models.InvoiceExtraction{
			Items: []models.LineItem{{
				Description: "Widget",
				Qty:         models.NewAmount(decimal.NewFromInt(3)),
				Rate:        models.NewAmount(decimal.NewFromInt(50)),
			}},
		},
	}
	c := newTestController(t, up)

	c.UploadFiles(context.Background(), files("inv.pdf"), nil)

	msgs := c.Messages()
	summary := msgs[len(msgs)-1]
	assert.Contains(t, summary.Content, "1. Widget (Qty: 3) @ ₹50")
	assert.Contains(t, summary.Content, "• Invoice #: Not found")
	require.NotNil(t, summary.Attachment.Invoice)
	assert.Len(t, summary.Attachment.Invoice.Items, 1)
}

func TestState_TracksQueuePosition(t *testing.T) {
	up := newFakeUploader()
	c := newTestController(t, up)

	var seen []State
	observer := &observingUploader{fn: func() { seen = append(seen, c.State()) }}
	c.uploader = observer

	c.UploadFiles(context.Background(), files("a.pdf", "b.pdf"), nil)

	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].Current)
	assert.Equal(t, 2, seen[0].Total)
	assert.True(t, seen[0].Processing)
	assert.Equal(t, 2, seen[1].Current)

	final := c.State()
	assert.Zero(t, final.Current)
	assert.Zero(t, final.Total)
	assert.False(t, final.Processing)
}

type observingUploader struct {
	fn func()
}

func (o *observingUploader) Submit(ctx context.Context, file models.UploadFile) (*models.ExtractionOutcome, error) {
	o.fn()
	return nil, errors.New("boom")
}

func TestMessageIDsAreUnique(t *testing.T) {
	c := newTestController(t, newFakeUploader())
	c.UploadFiles(context.Background(), files("a", "b", "c", "d"), nil)
	for i := 0; i < 20; i++ {
		c.SendTextMessage("x")
	}
	c.WaitReplies()

	seen := make(map[string]bool)
	for _, m := range c.Messages() {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 1+4*3+20*2)
}

func TestMessagesAreCopies(t *testing.T) {
	c := newTestController(t, newFakeUploader())

	msgs := c.Messages()
	msgs[0].Content = "changed"

	assert.Equal(t, WelcomeText, c.Messages()[0].Content)
}

func TestSubscribe_SignalsAppends(t *testing.T) {
	c := newTestController(t, newFakeUploader())
	ch, cancel := c.Subscribe()
	defer cancel()

	c.SendTextMessage("hi")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected append signal")
	}
	assert.Len(t, c.MessagesSince(1), 1)
}

func TestClose_CancelsPendingReplies(t *testing.T) {
	c := New(newFakeUploader(), WithReplyDelay(time.Hour))
	c.SendTextMessage("hi")

	c.Close()
	c.WaitReplies()

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.SendTextMessage("again"))
	assert.Equal(t, 2, c.Len())
}

func TestWithClock_StampsTimestamp(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)
	c := New(newFakeUploader(), WithClock(func() time.Time { return fixed }))
	defer c.Close()

	msg := c.Messages()[0]
	assert.Equal(t, "2:05:09 PM", msg.Timestamp)
	assert.True(t, fixed.Equal(msg.CreatedAt))
}

type contentUploader struct {
	mu       sync.Mutex
	contents map[string]string
}

func (u *contentUploader) Submit(ctx context.Context, file models.UploadFile) (*models.ExtractionOutcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.contents[file.Name] = string(file.Content)
	return &models.ExtractionOutcome{FileHash: "h"}, nil
}

func TestUploadFiles_LoadsStoredContent(t *testing.T) {
	stored := map[string][]byte{"id-a": []byte("%PDF-a")}
	var loaded []string
	load := func(id string) ([]byte, error) {
		loaded = append(loaded, id)
		data, ok := stored[id]
		if !ok {
			return nil, errors.New("file not found")
		}
		return data, nil
	}

	up := &contentUploader{contents: make(map[string]string)}
	c := New(up, WithContentLoader(load))
	defer c.Close()

	batch := []models.UploadFile{
		{ID: "id-a", Name: "a.pdf", ContentType: "application/pdf", Size: 6},
		{ID: "id-missing", Name: "b.pdf", ContentType: "application/pdf", Size: 3},
		{ID: "id-c", Name: "c.pdf", ContentType: "application/pdf", Content: []byte("inline")},
	}
	var errs []error
	c.UploadFiles(context.Background(), batch, func(_, _ int, err error) {
		errs = append(errs, err)
	})

	assert.Equal(t, []string{"id-a", "id-missing"}, loaded)
	assert.Equal(t, map[string]string{"a.pdf": "%PDF-a", "c.pdf": "inline"}, up.contents)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.NoError(t, errs[2])

	msgs := c.Messages()
	require.Len(t, msgs, 1+3*3)
	assert.Equal(t, int64(6), msgs[1].Attachment.File.Size)
	assert.True(t, strings.HasPrefix(msgs[6].Content, "❌ Failed to process b.pdf."))
	assert.Contains(t, msgs[6].Content, "could not read uploaded file")
	assert.False(t, c.Processing())
}
