// Package editor drives one image through intake, cropping, rasterization
// and upload. Every asynchronous step is tagged with the generation of the
// image it started for; results for a replaced or closed image are dropped.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc"

	"image-editor/internal/imageproc"
	"image-editor/internal/intake"
	"image-editor/internal/session"
	"image-editor/internal/uploader"
)

var (
	ErrBusy             = errors.New("save already in progress")
	ErrNoSource         = errors.New("no image loaded")
	ErrDragDropDisabled = errors.New("drag and drop is disabled")
	ErrNoUploader       = errors.New("no uploader configured")
	// ErrPanic wraps a panic recovered from a decoder, rasterizer or uploader.
	ErrPanic = errors.New("task panicked")
)

// RasterizeFunc renders a crop session into an encoded blob.
type RasterizeFunc func(ctx context.Context, src *imageproc.ImageSource, crop *imageproc.CropRegion, spec imageproc.OutputSpec) (*imageproc.Blob, error)

const DefaultLabel = "Image"

type Options struct {
	Label          string
	CurrentImage   string
	Validator      *intake.Validator
	Session        session.Config
	EnableDragDrop bool
	Uploader       uploader.Uploader
	// Rasterize defaults to imageproc.Rasterize.
	Rasterize RasterizeFunc
	Notifier  Notifier
	// OnImageUpdate receives the new image URL, or "" when the image is removed.
	OnImageUpdate func(url string)
	OnUploadStart func()
	// Observer is told about every finished save, successful or not.
	Observer func(Outcome)
	Logger   *slog.Logger
}

// Outcome describes a finished save.
type Outcome struct {
	Label    string
	Filename string
	URL      string
	MIMEType string
	Bytes    int
	Width    int
	Height   int
	Failure  FailureKind
	Err      error
}

type Editor struct {
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	source       *imageproc.ImageSource
	session      *session.CropSession
	currentImage string
	staged       string
	generation   uint64
	ctx          context.Context
	cancel       context.CancelFunc

	tasks conc.WaitGroup
}

func New(opts Options) *Editor {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.Validator == nil {
		opts.Validator = intake.NewValidator(nil, 0)
	}
	if opts.Session.Limits == (session.Limits{}) {
		features, aspect := opts.Session.Features, opts.Session.Aspect
		opts.Session = session.DefaultConfig()
		opts.Session.Features, opts.Session.Aspect = features, aspect
	}
	if opts.Rasterize == nil {
		opts.Rasterize = imageproc.Rasterize
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Editor{
		opts:         opts,
		logger:       logger.With("label", opts.Label),
		currentImage: opts.CurrentImage,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Snapshot is a consistent copy of the editor's observable state.
type Snapshot struct {
	Label        string               `json:"label"`
	State        State                `json:"state"`
	CurrentImage string               `json:"currentImage,omitempty"`
	StagedFile   string               `json:"stagedFile,omitempty"`
	SourceName   string               `json:"sourceName,omitempty"`
	Session      *session.CropSession `json:"session,omitempty"`
	Generation   uint64               `json:"generation"`
}

func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Label:        e.opts.Label,
		State:        e.state,
		CurrentImage: e.currentImage,
		StagedFile:   e.staged,
		Generation:   e.generation,
	}
	if e.source != nil {
		snap.SourceName = e.source.Name
	}
	if e.session != nil {
		s := *e.session
		snap.Session = &s
	}
	return snap
}

// SubmitFile validates f and, if accepted, replaces the current image and
// starts decoding it. Validation failures leave the editor untouched.
func (e *Editor) SubmitFile(ctx context.Context, f intake.File) error {
	if f.Origin == intake.Dropped && !e.opts.EnableDragDrop {
		return ErrDragDropDisabled
	}

	if err := e.opts.Validator.Validate(f); err != nil {
		e.mu.Lock()
		e.staged = ""
		e.mu.Unlock()
		e.logger.Info("file rejected", "file", f.Name, "type", f.Type, "size", humanize.IBytes(uint64(f.Size)), "err", err)
		e.opts.Notifier.Notify(e.validationNotice(err))
		return err
	}

	e.mu.Lock()
	gen, taskCtx := e.resetLocked(ctx)
	e.staged = f.Name
	e.mu.Unlock()

	e.logger.Debug("decoding file", "file", f.Name, "size", humanize.IBytes(uint64(len(f.Data))), "generation", gen)
	e.tasks.Go(func() {
		var src *imageproc.ImageSource
		err := protect(func() (err error) {
			src, err = e.opts.Validator.Decode(taskCtx, f)
			return err
		})
		e.resolveDecode(gen, src, err)
	})
	return nil
}

// resetLocked cancels in-flight work and starts a new generation. Task
// contexts keep the caller's values but not its cancellation.
func (e *Editor) resetLocked(parent context.Context) (uint64, context.Context) {
	e.cancel()
	e.generation++
	e.source = nil
	e.session = nil
	e.staged = ""
	e.state = State{Phase: Idle}
	if parent == nil {
		parent = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(parent))
	return e.generation, e.ctx
}

func (e *Editor) resolveDecode(gen uint64, src *imageproc.ImageSource, err error) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug("discarding stale decode", "generation", gen)
		return
	}
	e.staged = ""
	if err != nil {
		e.state = State{Phase: Failed, Failure: DecodeFailure, Reason: err.Error()}
		e.mu.Unlock()
		e.logger.Warn("decode failed", "err", err)
		e.opts.Notifier.Notify(Notification{
			Title:       "Error",
			Description: "Failed to read image file. Please try another one.",
			Variant:     VariantDestructive,
		})
		return
	}
	s := session.New(src.DisplayWidth, src.DisplayHeight, e.opts.Session)
	e.source = src
	e.session = &s
	e.state = State{Phase: Editing}
	e.mu.Unlock()
	e.logger.Debug("editor opened", "file", src.Name, "width", src.NaturalWidth, "height", src.NaturalHeight)
}

// Dispatch applies one crop-session action.
func (e *Editor) Dispatch(a session.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil || e.session == nil {
		return ErrNoSource
	}
	if e.state.Phase.Busy() {
		return ErrBusy
	}
	next, err := session.Apply(*e.session, a)
	if err != nil {
		return err
	}
	e.session = &next
	return nil
}

// Save rasterizes the current crop and uploads it. It returns once the work
// is scheduled; the outcome is reported through the state and callbacks.
func (e *Editor) Save(ctx context.Context) error {
	if e.opts.Uploader == nil {
		return ErrNoUploader
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.state.Phase.Busy() {
		e.mu.Unlock()
		return ErrBusy
	}
	if e.source == nil || e.session == nil {
		e.mu.Unlock()
		return ErrNoSource
	}
	gen := e.generation
	taskCtx := e.ctx
	src := e.source
	sess := *e.session
	e.state = State{Phase: Rasterizing}
	e.mu.Unlock()

	if fn := e.opts.OnUploadStart; fn != nil {
		fn()
	}
	e.tasks.Go(func() {
		e.runSave(taskCtx, gen, src, sess)
	})
	return nil
}

func (e *Editor) runSave(ctx context.Context, gen uint64, src *imageproc.ImageSource, sess session.CropSession) {
	var blob *imageproc.Blob
	err := protect(func() (err error) {
		blob, err = e.opts.Rasterize(ctx, src, sess.Crop, sess.Output)
		if err == nil && blob == nil {
			err = fmt.Errorf("%w: empty raster", imageproc.ErrEncode)
		}
		return err
	})
	if err != nil {
		e.fail(gen, Outcome{Failure: EncodeFailure, Err: err}, "Failed to process image. Please try again.")
		return
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug("discarding stale raster", "generation", gen)
		return
	}
	e.state = State{Phase: Uploading}
	e.mu.Unlock()

	filename := Filename(e.opts.Label, sess.Output.Format)
	outcome := Outcome{
		Label:    e.opts.Label,
		Filename: filename,
		MIMEType: blob.MIMEType,
		Bytes:    len(blob.Data),
		Width:    blob.Width,
		Height:   blob.Height,
	}
	e.logger.Info("uploading image", "file", filename, "mime", blob.MIMEType, "size", humanize.IBytes(uint64(len(blob.Data))), "width", blob.Width, "height", blob.Height)

	var url string
	err = protect(func() (err error) {
		url, err = e.opts.Uploader.Upload(ctx, filename, blob.Data, blob.MIMEType)
		return err
	})
	if err != nil {
		outcome.Failure, outcome.Err = UploadFailure, err
		message := err.Error()
		if message == "" || errors.Is(err, ErrPanic) {
			message = fmt.Sprintf("Failed to upload %s", strings.ToLower(e.opts.Label))
		}
		e.fail(gen, outcome, message)
		return
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug("discarding stale upload", "generation", gen, "url", url)
		return
	}
	e.state = State{Phase: Succeeded, URL: url}
	e.currentImage = url
	e.source = nil
	e.session = nil
	e.staged = ""
	e.mu.Unlock()

	outcome.URL = url
	e.logger.Info("image uploaded", "url", url)
	if fn := e.opts.OnImageUpdate; fn != nil {
		fn(url)
	}
	e.opts.Notifier.Notify(Notification{
		Title:       "Success",
		Description: fmt.Sprintf("%s uploaded successfully!", e.opts.Label),
		Variant:     VariantDefault,
	})
	if fn := e.opts.Observer; fn != nil {
		fn(outcome)
	}
}

// fail moves a current save to Failed. Source and session are kept for retry.
func (e *Editor) fail(gen uint64, outcome Outcome, message string) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug("discarding stale failure", "generation", gen, "err", outcome.Err)
		return
	}
	e.state = State{Phase: Failed, Failure: outcome.Failure, Reason: message}
	e.mu.Unlock()

	if outcome.Label == "" {
		outcome.Label = e.opts.Label
	}
	e.logger.Warn("save failed", "failure", outcome.Failure.String(), "err", outcome.Err)
	e.opts.Notifier.Notify(Notification{Title: "Error", Description: message, Variant: VariantDestructive})
	if fn := e.opts.Observer; fn != nil {
		fn(outcome)
	}
}

// protect turns a panic in fn into an ErrPanic error so a failed task
// still leaves the editor in a terminal state.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// Close discards the image and any pending work.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked(context.Background())
}

// Remove clears the owner's image.
func (e *Editor) Remove() {
	e.mu.Lock()
	e.currentImage = ""
	e.staged = ""
	e.mu.Unlock()
	if fn := e.opts.OnImageUpdate; fn != nil {
		fn("")
	}
}

// Wait blocks until every scheduled task has finished.
func (e *Editor) Wait() {
	e.tasks.Wait()
}

func (e *Editor) validationNotice(err error) Notification {
	switch {
	case errors.Is(err, intake.ErrUnsupportedFormat):
		return Notification{
			Title:       "Invalid file type",
			Description: fmt.Sprintf("Please upload %s files only", e.opts.Validator.AllowedLabels()),
			Variant:     VariantDestructive,
		}
	case errors.Is(err, intake.ErrFileTooLarge):
		return Notification{
			Title:       "File too large",
			Description: fmt.Sprintf("Image must be smaller than %sMB", strconv.FormatFloat(e.opts.Validator.MaxFileSizeMB, 'f', -1, 64)),
			Variant:     VariantDestructive,
		}
	}
	return Notification{Title: "Error", Description: err.Error(), Variant: VariantDestructive}
}

// FailureOf classifies an intake error.
func FailureOf(err error) FailureKind {
	switch {
	case err == nil:
		return NoFailure
	case errors.Is(err, intake.ErrUnsupportedFormat):
		return UnsupportedFormat
	case errors.Is(err, intake.ErrFileTooLarge):
		return FileTooLarge
	case errors.Is(err, intake.ErrDecodeFailure):
		return DecodeFailure
	}
	return NoFailure
}

var whitespace = regexp.MustCompile(`\s+`)

// Filename derives "<label-slug>.<ext>", e.g. "Company Logo" -> "company-logo.png".
func Filename(label string, format imageproc.Format) string {
	slug := whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "-")
	if slug == "" {
		slug = "image"
	}
	return slug + "." + format.Extension()
}
