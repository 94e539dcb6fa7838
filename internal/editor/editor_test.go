package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"image-editor/internal/imageproc"
	"image-editor/internal/intake"
	"image-editor/internal/session"
	"image-editor/internal/uploader"
)

func pngFile(t *testing.T, name string, w, h int) intake.File {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return intake.File{Name: name, Type: "image/png", Size: int64(buf.Len()), Data: buf.Bytes()}
}

type upload struct {
	name        string
	contentType string
	size        int
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{name: name, contentType: contentType, size: len(data)})
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example/" + name, nil
}

func (f *fakeUploader) calls() []upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upload(nil), f.uploads...)
}

// blockingUploader holds every upload until release is closed.
type blockingUploader struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingUploader() *blockingUploader {
	return &blockingUploader{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingUploader) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	b.started <- struct{}{}
	<-b.release
	return "https://cdn.example/" + name, nil
}

type harness struct {
	editor   *Editor
	notes    *Recorder
	mu       sync.Mutex
	updates  []string
	outcomes []Outcome
	starts   int
}

func newHarness(t *testing.T, up uploader.Uploader, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{notes: &Recorder{}}
	cfg := session.DefaultConfig()
	cfg.Features = session.Features{EnableZoom: true, EnableQuality: true, EnableFormat: true, EnableAspectPresets: true}
	opts := Options{
		Label:    "Company Logo",
		Session:  cfg,
		Uploader: up,
		Notifier: h.notes,
		OnImageUpdate: func(url string) {
			h.mu.Lock()
			h.updates = append(h.updates, url)
			h.mu.Unlock()
		},
		OnUploadStart: func() {
			h.mu.Lock()
			h.starts++
			h.mu.Unlock()
		},
		Observer: func(o Outcome) {
			h.mu.Lock()
			h.outcomes = append(h.outcomes, o)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.editor = New(opts)
	t.Cleanup(h.editor.Wait)
	return h
}

func (h *harness) imageUpdates() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.updates...)
}

func (h *harness) observed() []Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Outcome(nil), h.outcomes...)
}

func (h *harness) open(t *testing.T, f intake.File) {
	t.Helper()
	if err := h.editor.SubmitFile(context.Background(), f); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.editor.Wait()
	if got := h.editor.Snapshot().State.Phase; got != Editing {
		t.Fatalf("expected editing after decode, got %s", got)
	}
}

func TestSaveSuccess(t *testing.T) {
	up := &fakeUploader{}
	h := newHarness(t, up, nil)
	h.open(t, pngFile(t, "logo.png", 200, 100))

	snap := h.editor.Snapshot()
	if snap.Session == nil || snap.Session.Crop == nil {
		t.Fatalf("expected an initialized crop, got %+v", snap.Session)
	}
	if snap.SourceName != "logo.png" {
		t.Fatalf("unexpected source name %q", snap.SourceName)
	}

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.editor.Wait()

	snap = h.editor.Snapshot()
	if snap.State.Phase != Succeeded {
		t.Fatalf("expected succeeded, got %+v", snap.State)
	}
	if !strings.HasSuffix(snap.State.URL, "company-logo.png") {
		t.Fatalf("unexpected url %q", snap.State.URL)
	}
	if snap.Session != nil || snap.SourceName != "" {
		t.Fatalf("expected source cleared after success")
	}
	if snap.CurrentImage != snap.State.URL {
		t.Fatalf("expected current image %q, got %q", snap.State.URL, snap.CurrentImage)
	}

	calls := up.calls()
	if len(calls) != 1 || calls[0].name != "company-logo.png" || calls[0].contentType != "image/png" {
		t.Fatalf("unexpected uploads: %+v", calls)
	}
	if updates := h.imageUpdates(); len(updates) != 1 || updates[0] != snap.State.URL {
		t.Fatalf("unexpected image updates: %v", updates)
	}
	if h.starts != 1 {
		t.Fatalf("expected one upload start, got %d", h.starts)
	}

	notes := h.notes.Notifications()
	last := notes[len(notes)-1]
	if last.Title != "Success" || last.Description != "Company Logo uploaded successfully!" || last.Variant != VariantDefault {
		t.Fatalf("unexpected notification: %+v", last)
	}

	outcomes := h.observed()
	if len(outcomes) != 1 || outcomes[0].URL != snap.State.URL || outcomes[0].Width != 150 || outcomes[0].Height != 150 {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestUploadFailureKeepsSession(t *testing.T) {
	up := &fakeUploader{err: errors.New("quota exceeded")}
	h := newHarness(t, up, nil)
	h.open(t, pngFile(t, "logo.png", 120, 120))

	if err := h.editor.Dispatch(session.SetZoom{Zoom: 2}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.editor.Wait()

	snap := h.editor.Snapshot()
	if snap.State.Phase != Failed || snap.State.Failure != UploadFailure || snap.State.Reason != "quota exceeded" {
		t.Fatalf("unexpected state: %+v", snap.State)
	}
	if snap.Session == nil || snap.Session.Output.Zoom != 2 {
		t.Fatalf("expected session kept for retry, got %+v", snap.Session)
	}
	if updates := h.imageUpdates(); len(updates) != 0 {
		t.Fatalf("image update must not fire on failure: %v", updates)
	}
	notes := h.notes.Notifications()
	if last := notes[len(notes)-1]; last.Variant != VariantDestructive || last.Description != "quota exceeded" {
		t.Fatalf("unexpected notification: %+v", last)
	}
	if outcomes := h.observed(); len(outcomes) != 1 || outcomes[0].Failure != UploadFailure {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	up.mu.Lock()
	up.err = nil
	up.mu.Unlock()
	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	h.editor.Wait()
	if got := h.editor.Snapshot().State.Phase; got != Succeeded {
		t.Fatalf("expected retry to succeed, got %s", got)
	}
	// zoom 2 doubles the 150x150 target
	if outcomes := h.observed(); outcomes[len(outcomes)-1].Width != 300 {
		t.Fatalf("expected zoomed width 300, got %+v", outcomes[len(outcomes)-1])
	}
}

func TestSaveWhileBusy(t *testing.T) {
	up := newBlockingUploader()
	h := newHarness(t, up, nil)
	h.open(t, pngFile(t, "logo.png", 64, 64))

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := h.editor.Save(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	<-up.started
	if err := h.editor.Dispatch(session.SetQuality{Quality: 50}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for dispatch, got %v", err)
	}
	if got := h.editor.Snapshot().State.Phase; got != Uploading {
		t.Fatalf("expected uploading, got %s", got)
	}
	close(up.release)
	h.editor.Wait()
	if got := h.editor.Snapshot().State.Phase; got != Succeeded {
		t.Fatalf("expected succeeded, got %s", got)
	}
}

func TestCloseDiscardsInFlightUpload(t *testing.T) {
	up := newBlockingUploader()
	h := newHarness(t, up, nil)
	h.open(t, pngFile(t, "logo.png", 64, 64))

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	<-up.started
	h.editor.Close()
	close(up.release)
	h.editor.Wait()

	snap := h.editor.Snapshot()
	if snap.State.Phase != Idle || snap.Session != nil {
		t.Fatalf("expected idle editor after close, got %+v", snap)
	}
	if updates := h.imageUpdates(); len(updates) != 0 {
		t.Fatalf("stale upload must not update the image: %v", updates)
	}
	if outcomes := h.observed(); len(outcomes) != 0 {
		t.Fatalf("stale upload must not be observed: %+v", outcomes)
	}
}

func TestFormatChangeChangesBlob(t *testing.T) {
	up := &fakeUploader{err: errors.New("gateway timeout")}
	h := newHarness(t, up, nil)
	h.open(t, pngFile(t, "logo.png", 80, 80))

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save png: %v", err)
	}
	h.editor.Wait()
	if got := h.editor.Snapshot().State.Phase; got != Failed {
		t.Fatalf("expected failed first save, got %s", got)
	}

	up.mu.Lock()
	up.err = nil
	up.mu.Unlock()
	if err := h.editor.Dispatch(session.SetFormat{Format: imageproc.JPEG}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save jpeg: %v", err)
	}
	h.editor.Wait()

	calls := up.calls()
	if len(calls) != 2 {
		t.Fatalf("expected two uploads, got %+v", calls)
	}
	if calls[0].contentType != "image/png" || calls[1].contentType != "image/jpeg" {
		t.Fatalf("unexpected content types: %+v", calls)
	}
	if calls[0].name != "company-logo.png" || calls[1].name != "company-logo.jpg" {
		t.Fatalf("unexpected filenames: %+v", calls)
	}
	if snap := h.editor.Snapshot(); snap.Generation != 1 || snap.State.Phase != Succeeded {
		t.Fatalf("expected the retry on the same image to succeed, got %+v", snap)
	}
}

func TestUploaderPanicFailsSave(t *testing.T) {
	panics := true
	var mu sync.Mutex
	up := uploader.Func(func(ctx context.Context, name string, data []byte, contentType string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if panics {
			panic("nil bucket handle")
		}
		return "https://cdn.example/" + name, nil
	})
	h := newHarness(t, up, nil)
	h.open(t, pngFile(t, "logo.png", 64, 64))

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.editor.Wait()

	snap := h.editor.Snapshot()
	if snap.State.Phase != Failed || snap.State.Failure != UploadFailure {
		t.Fatalf("expected upload failure, got %+v", snap.State)
	}
	if snap.State.Reason != "Failed to upload company logo" {
		t.Fatalf("unexpected reason %q", snap.State.Reason)
	}
	if outcomes := h.observed(); len(outcomes) != 1 || !errors.Is(outcomes[0].Err, ErrPanic) {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	mu.Lock()
	panics = false
	mu.Unlock()
	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save after panic: %v", err)
	}
	h.editor.Wait()
	if got := h.editor.Snapshot().State.Phase; got != Succeeded {
		t.Fatalf("expected succeeded, got %s", got)
	}
}

func TestRasterizerPanicFailsSave(t *testing.T) {
	up := &fakeUploader{}
	h := newHarness(t, up, func(o *Options) {
		o.Rasterize = func(context.Context, *imageproc.ImageSource, *imageproc.CropRegion, imageproc.OutputSpec) (*imageproc.Blob, error) {
			panic("index out of range")
		}
	})
	h.open(t, pngFile(t, "logo.png", 64, 64))

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.editor.Wait()

	if snap := h.editor.Snapshot(); snap.State.Phase != Failed || snap.State.Failure != EncodeFailure {
		t.Fatalf("expected encode failure, got %+v", snap.State)
	}
	if calls := up.calls(); len(calls) != 0 {
		t.Fatalf("expected no uploads, got %+v", calls)
	}
	if err := h.editor.Save(context.Background()); errors.Is(err, ErrBusy) {
		t.Fatalf("editor stuck busy after panic")
	}
	h.editor.Wait()
}

func TestEncodeFailureKeepsSession(t *testing.T) {
	up := &fakeUploader{}
	h := newHarness(t, up, func(o *Options) {
		o.Rasterize = func(context.Context, *imageproc.ImageSource, *imageproc.CropRegion, imageproc.OutputSpec) (*imageproc.Blob, error) {
			return nil, fmt.Errorf("%w: webp encoder unavailable", imageproc.ErrEncode)
		}
	})
	h.open(t, pngFile(t, "logo.png", 64, 64))

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.editor.Wait()

	snap := h.editor.Snapshot()
	if snap.State.Phase != Failed || snap.State.Failure != EncodeFailure {
		t.Fatalf("expected encode failure, got %+v", snap.State)
	}
	if snap.State.Reason != "Failed to process image. Please try again." {
		t.Fatalf("unexpected reason %q", snap.State.Reason)
	}
	if snap.Session == nil || snap.SourceName != "logo.png" {
		t.Fatalf("expected session kept for retry, got %+v", snap)
	}
	if calls := up.calls(); len(calls) != 0 {
		t.Fatalf("expected no uploads, got %+v", calls)
	}
	outcomes := h.observed()
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, imageproc.ErrEncode) {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestCloseWhileRasterizing(t *testing.T) {
	up := &fakeUploader{}
	started, release := make(chan struct{}), make(chan struct{})
	h := newHarness(t, up, func(o *Options) {
		o.Rasterize = func(ctx context.Context, src *imageproc.ImageSource, crop *imageproc.CropRegion, spec imageproc.OutputSpec) (*imageproc.Blob, error) {
			close(started)
			<-release
			return imageproc.Rasterize(ctx, src, crop, spec)
		}
	})
	h.open(t, pngFile(t, "logo.png", 64, 64))

	if err := h.editor.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	<-started
	if got := h.editor.Snapshot().State.Phase; got != Rasterizing {
		t.Fatalf("expected rasterizing, got %s", got)
	}
	h.editor.Close()
	close(release)
	h.editor.Wait()

	if snap := h.editor.Snapshot(); snap.State.Phase != Idle || snap.Session != nil {
		t.Fatalf("expected idle editor after close, got %+v", snap)
	}
	if calls := up.calls(); len(calls) != 0 {
		t.Fatalf("closed editor must not upload: %+v", calls)
	}
	if outcomes := h.observed(); len(outcomes) != 0 {
		t.Fatalf("closed editor must not report outcomes: %+v", outcomes)
	}
}

func TestSecondFileSupersedesFirst(t *testing.T) {
	h := newHarness(t, &fakeUploader{}, nil)
	ctx := context.Background()
	if err := h.editor.SubmitFile(ctx, pngFile(t, "first.png", 300, 200)); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if err := h.editor.SubmitFile(ctx, pngFile(t, "second.png", 40, 60)); err != nil {
		t.Fatalf("submit second: %v", err)
	}
	h.editor.Wait()

	snap := h.editor.Snapshot()
	if snap.SourceName != "second.png" || snap.Session.SourceWidth != 40 || snap.Session.SourceHeight != 60 {
		t.Fatalf("expected second file to win, got %+v", snap)
	}
	if snap.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", snap.Generation)
	}
}

func TestCloseBeforeDecodeFinishes(t *testing.T) {
	h := newHarness(t, &fakeUploader{}, nil)
	if err := h.editor.SubmitFile(context.Background(), pngFile(t, "logo.png", 500, 500)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.editor.Close()
	h.editor.Wait()
	if snap := h.editor.Snapshot(); snap.State.Phase != Idle || snap.Session != nil {
		t.Fatalf("expected closed editor to stay idle, got %+v", snap)
	}
}

func TestRejectedFilesDoNotOpenEditor(t *testing.T) {
	h := newHarness(t, &fakeUploader{}, func(o *Options) {
		o.Validator = intake.NewValidator(nil, 1)
	})

	err := h.editor.SubmitFile(context.Background(), intake.File{Name: "anim.gif", Type: "image/gif", Size: 10, Data: []byte("GIF89a")})
	if !errors.Is(err, intake.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if FailureOf(err) != UnsupportedFormat {
		t.Fatalf("unexpected failure kind %s", FailureOf(err))
	}

	big := intake.File{Name: "big.png", Type: "image/png", Size: 2 * 1024 * 1024}
	err = h.editor.SubmitFile(context.Background(), big)
	if !errors.Is(err, intake.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	notes := h.notes.Notifications()
	if len(notes) != 2 {
		t.Fatalf("expected two notifications, got %+v", notes)
	}
	if notes[0].Title != "Invalid file type" || notes[0].Description != "Please upload JPEG, PNG, JPG, WEBP files only" {
		t.Fatalf("unexpected type notification: %+v", notes[0])
	}
	if notes[1].Title != "File too large" || notes[1].Description != "Image must be smaller than 1MB" {
		t.Fatalf("unexpected size notification: %+v", notes[1])
	}

	snap := h.editor.Snapshot()
	if snap.State.Phase != Idle || snap.Session != nil || snap.StagedFile != "" {
		t.Fatalf("editor must stay closed, got %+v", snap)
	}
	if err := h.editor.Save(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestDecodeFailure(t *testing.T) {
	h := newHarness(t, &fakeUploader{}, nil)
	f := intake.File{Name: "broken.png", Type: "image/png", Data: []byte("not really a png")}
	if err := h.editor.SubmitFile(context.Background(), f); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.editor.Wait()
	state := h.editor.Snapshot().State
	if state.Phase != Failed || state.Failure != DecodeFailure {
		t.Fatalf("expected decode failure, got %+v", state)
	}
}

func TestDropRequiresDragDrop(t *testing.T) {
	h := newHarness(t, &fakeUploader{}, nil)
	f := pngFile(t, "logo.png", 10, 10)
	f.Origin = intake.Dropped
	if err := h.editor.SubmitFile(context.Background(), f); !errors.Is(err, ErrDragDropDisabled) {
		t.Fatalf("expected ErrDragDropDisabled, got %v", err)
	}

	h = newHarness(t, &fakeUploader{}, func(o *Options) { o.EnableDragDrop = true })
	h.open(t, f)
}

func TestDispatchWithoutSource(t *testing.T) {
	h := newHarness(t, &fakeUploader{}, nil)
	if err := h.editor.Dispatch(session.SetZoom{Zoom: 1.5}); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	h := newHarness(t, &fakeUploader{}, func(o *Options) { o.CurrentImage = "https://cdn.example/old.png" })
	h.editor.Remove()
	if updates := h.imageUpdates(); len(updates) != 1 || updates[0] != "" {
		t.Fatalf("expected empty image update, got %v", updates)
	}
	if got := h.editor.Snapshot().CurrentImage; got != "" {
		t.Fatalf("expected current image cleared, got %q", got)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		label  string
		format imageproc.Format
		want   string
	}{
		{"Company Logo", imageproc.PNG, "company-logo.png"},
		{"  Profile   Photo ", imageproc.JPEG, "profile-photo.jpg"},
		{"Banner", imageproc.WebP, "banner.webp"},
		{"", imageproc.PNG, "image.png"},
	}
	for _, tt := range tests {
		if got := Filename(tt.label, tt.format); got != tt.want {
			t.Fatalf("Filename(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestRecorderLimit(t *testing.T) {
	r := &Recorder{Limit: 2}
	for _, title := range []string{"a", "b", "c"} {
		r.Notify(Notification{Title: title})
	}
	got := r.Notifications()
	if len(got) != 2 || got[0].Title != "b" || got[1].Title != "c" {
		t.Fatalf("expected newest two notifications, got %+v", got)
	}
}
