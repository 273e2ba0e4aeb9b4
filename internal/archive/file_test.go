package archive

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(topic string, at time.Time) Record {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-WC-Webhook-Signature", "c2VjcmV0")
	h.Set("X-WC-Webhook-Topic", topic)
	rec := Capture(at, h, []byte(`{"id":1001}`), "X-WC-Webhook-Signature")
	rec.Topic = topic
	return rec
}

func TestCaptureRedactsAndEncodes(t *testing.T) {
	rec := sampleRecord("order.created", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	assert.Equal(t, "[redacted]", rec.Header("x-wc-webhook-signature"))
	assert.Equal(t, "order.created", rec.Header("X-WC-Webhook-Topic"))
	assert.Equal(t, 11, rec.BodyLength)
	assert.Equal(t, `{"id":1001}`, rec.Preview)

	body, err := rec.Body()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1001}`, string(body))
}

func TestCapturePreviewIsTruncated(t *testing.T) {
	body := []byte(strings.Repeat("x", 1000))
	rec := Capture(time.Now(), http.Header{}, body)
	assert.Len(t, rec.Preview, previewLen)
	assert.Equal(t, 1000, rec.BodyLength)
}

func TestCaptureTruncatedKeepsOnlyPreview(t *testing.T) {
	partial := []byte(strings.Repeat("y", 600))
	rec := CaptureTruncated(time.Now(), http.Header{}, partial, -1, "body_too_large")

	assert.True(t, rec.Truncated)
	assert.Equal(t, "body_too_large", rec.Rejected)
	assert.Equal(t, 600, rec.BodyLength)
	assert.Len(t, rec.Preview, previewLen)
	assert.Empty(t, rec.BodyB64)
	assert.False(t, rec.SignatureOK)

	rec = CaptureTruncated(time.Now(), http.Header{}, partial, 9000, "body_too_large")
	assert.Equal(t, 9000, rec.BodyLength)
}

func TestFileSinkSequencesPerDayAndTopic(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ref1, err := sink.Archive(ctx, sampleRecord("order.created", day))
	require.NoError(t, err)
	ref2, err := sink.Archive(ctx, sampleRecord("order.created", day))
	require.NoError(t, err)
	ref3, err := sink.Archive(ctx, sampleRecord("refund.created", day))
	require.NoError(t, err)
	ref4, err := sink.Archive(ctx, sampleRecord("order.created", day.Add(24*time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, "20260301_order.created_000001.json", ref1)
	assert.Equal(t, "20260301_order.created_000002.json", ref2)
	assert.Equal(t, "20260301_refund.created_000001.json", ref3)
	assert.Equal(t, "20260302_order.created_000001.json", ref4)

	got, err := sink.Load(ctx, ref2)
	require.NoError(t, err)
	assert.Equal(t, "order.created", got.Topic)
	body, _ := got.Body()
	assert.Equal(t, `{"id":1001}`, string(body))
}

func TestFileSinkNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// a gap in the sequence is never backfilled
	require.NoError(t, os.WriteFile(dir+"/20260301_order.created_000007.json", []byte("{}"), 0o644))
	ref, err := sink.Archive(context.Background(), sampleRecord("order.created", day))
	require.NoError(t, err)
	assert.Equal(t, "20260301_order.created_000008.json", ref)

	data, err := os.ReadFile(dir + "/20260301_order.created_000007.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestFileSinkConcurrentArchives(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	refs := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := sink.Archive(context.Background(), sampleRecord("order.updated", day))
			if err == nil {
				refs <- ref
			}
		}()
	}
	wg.Wait()
	close(refs)

	seen := map[string]bool{}
	for r := range refs {
		assert.False(t, seen[r], "duplicate ref %s", r)
		seen[r] = true
	}
	assert.Len(t, seen, 20)
}

func TestFileSinkLoadErrors(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	_, err = sink.Load(context.Background(), "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = sink.Load(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

func TestTopicSlug(t *testing.T) {
	assert.Equal(t, "order.created", topicSlug("order.created"))
	assert.Equal(t, "unknown", topicSlug(""))
	assert.Equal(t, "a_b", topicSlug("a/b"))
}
