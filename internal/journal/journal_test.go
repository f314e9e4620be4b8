package journal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/internal/schema"
)

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.CopyPayload = true
	return cfg
}

func header(seq uint64, ts int64) schema.EventHeader {
	return schema.EventHeader{
		Type:    schema.EventMarketData,
		Seq:     seq,
		TsEvent: ts,
		TsRecv:  ts,
	}
}

func writeEvents(t *testing.T, cfg Config, count int) {
	t.Helper()
	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 1; i <= count; i++ {
		payload := []byte{byte(i), byte(i >> 8)}
		if err := w.TryAppend(header(uint64(i), int64(i)*1000), payload); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, testConfig(dir), 10)

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	if err != nil {
		t.Fatalf("playback: %v", err)
	}
	var seqs []uint64
	err = p.Run(context.Background(), func(h schema.EventHeader, payload []byte) error {
		seqs = append(seqs, h.Seq)
		if len(payload) != 2 || payload[0] != byte(h.Seq) {
			t.Fatalf("seq %d payload = %v", h.Seq, payload)
		}
		if h.Version != schema.SchemaVersion {
			t.Fatalf("seq %d version = %d", h.Seq, h.Version)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seqs) != 10 {
		t.Fatalf("replayed %d records, want 10", len(seqs))
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("seqs = %v, want 1..10 in order", seqs)
		}
	}
}

func TestAppendRequiresStart(t *testing.T) {
	w, err := NewWriter(testConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.TryAppend(header(1, 1), nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want not started", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.TryAppend(header(1, 1), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want closed", err)
	}
}

func TestSegmentRotationKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	// One record per segment: header 56 + payload 2 + checksum 4.
	cfg.SegmentMaxBytes = 62
	writeEvents(t, cfg, 5)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("segments = %d, want 5", len(entries))
	}

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	if err != nil {
		t.Fatalf("playback: %v", err)
	}
	var last uint64
	err = p.Run(context.Background(), func(h schema.EventHeader, _ []byte) error {
		if h.Seq != last+1 {
			t.Fatalf("seq %d after %d", h.Seq, last)
		}
		last = h.Seq
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if last != 5 {
		t.Fatalf("replayed through seq %d, want 5", last)
	}
}

func TestReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, testConfig(dir), 1)

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("read dir: %v entries %d", err, len(entries))
	}
	path := filepath.Join(dir, entries[0].Name())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	// Flip one payload byte; the trailing checksum no longer matches.
	data[recordHeaderSize] ^= 0xff
	r := NewReader(bytes.NewReader(data), ReaderOptions{})
	if _, _, err := r.Next(); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}

	// Checksum validation can be turned off for salvage reads.
	r = NewReader(bytes.NewReader(data), ReaderOptions{DisableChecksum: true})
	if _, _, err := r.Next(); err != nil {
		t.Fatalf("salvage read failed: %v", err)
	}
}

func TestReaderRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, testConfig(dir), 1)

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	data[0] = 'X'
	r := NewReader(bytes.NewReader(data), ReaderOptions{})
	if _, _, err := r.Next(); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("err = %v, want invalid magic", err)
	}
}

func TestReaderMaxPayloadSize(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, testConfig(dir), 1)

	entries, _ := os.ReadDir(dir)
	file, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	r := NewReader(file, ReaderOptions{MaxPayloadSize: 1})
	if _, _, err := r.Next(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want payload too large", err)
	}
}

func TestReaderEOFOnEmptyInput(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), ReaderOptions{})
	if _, _, err := r.Next(); err != io.EOF {
		t.Fatalf("err = %v, want EOF", err)
	}
}

func TestRecordHeaderRoundTrip(t *testing.T) {
	in := schema.EventHeader{
		Type:    schema.EventFill,
		Version: schema.SchemaVersion,
		Source:  3,
		Flags:   0x10,
		Seq:     77,
		TsEvent: 1234567,
		TsRecv:  1234999,
		TraceID: 0xdeadbeef,
	}
	buf := make([]byte, recordHeaderSize)
	encodeHeader(buf, in, 9)

	out, payloadLen, err := decodeRecordHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if payloadLen != 9 {
		t.Fatalf("payload len = %d, want 9", payloadLen)
	}
}

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func TestPlaybackPacing(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	base := int64(1_000_000)
	for i := int64(0); i < 3; i++ {
		h := header(uint64(i+1), base+i*1000)
		if err := w.TryAppend(h, []byte{1}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	clock := &fakeClock{}
	p, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 2})
	if err != nil {
		t.Fatalf("playback: %v", err)
	}
	count := 0
	err = p.WithClock(clock).Run(context.Background(), func(schema.EventHeader, []byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 3 {
		t.Fatalf("replayed %d, want 3", count)
	}
	// Two 1000ns gaps at 2x speed pace as 500ns each.
	if len(clock.slept) != 2 || clock.slept[0] != 500 || clock.slept[1] != 500 {
		t.Fatalf("sleeps = %v", clock.slept)
	}
}

func TestPlaybackHandlerErrorStops(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, testConfig(dir), 3)

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	if err != nil {
		t.Fatalf("playback: %v", err)
	}
	boom := errors.New("boom")
	count := 0
	err = p.Run(context.Background(), func(schema.EventHeader, []byte) error {
		count++
		if count == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want handler error", err)
	}
	if count != 2 {
		t.Fatalf("handler ran %d times, want 2", count)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("empty config must not validate")
	}
	if err := DefaultConfig(t.TempDir()).Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if _, err := NewPlayback(PlaybackConfig{Dir: "x", Speed: -1}); err == nil {
		t.Fatal("negative speed must not validate")
	}
}
