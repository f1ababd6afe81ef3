// Package upload validates a batch of images and uploads it one file at a
// time.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"writecheck/pkg/domain"
	"writecheck/pkg/store"
)

const DefaultMaxBytes int64 = 10 << 20

// DefaultContentTypes is the image allow-list.
var DefaultContentTypes = []string{"image/jpeg", "image/jpg", "image/png"}

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid upload")
	ErrNoFiles    = errors.New("no files selected")
)

// ValidationError names the first file that failed the pre-upload checks.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// File is one image to upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func(ctx context.Context) (io.ReadCloser, error)
}

// Uploader sends one image to the API.
type Uploader interface {
	UploadImage(ctx context.Context, filename, contentType string, r io.Reader) (domain.Writing, error)
}

// Progress counts the file being uploaded. Current is 1-based.
type Progress struct {
	Current int
	Total   int
}

// OutcomeKind is the overall result of a batch.
type OutcomeKind int

const (
	AllSucceeded OutcomeKind = iota + 1
	PartiallySucceeded
	AllFailed
)

// Outcome summarizes a finished batch.
type Outcome struct {
	Kind     OutcomeKind
	Uploaded []domain.Writing
	Failed   []string
	Message  string
}

// Sequencer uploads batches of images.
type Sequencer struct {
	api        Uploader
	cache      *store.RecordCache
	maxBytes   int64
	allowed    map[string]struct{}
	onProgress func(Progress)
	logger     *slog.Logger

	mu       sync.Mutex
	progress *Progress
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithMaxBytes overrides the per-file size cap.
func WithMaxBytes(n int64) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithContentTypes overrides the MIME allow-list.
func WithContentTypes(types []string) Option {
	return func(s *Sequencer) {
		if len(types) == 0 {
			return
		}
		s.allowed = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
		}
	}
}

// WithProgress registers a callback invoked before each file is sent.
func WithProgress(fn func(Progress)) Option {
	return func(s *Sequencer) { s.onProgress = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSequencer builds a sequencer that records successful uploads in cache.
func NewSequencer(api Uploader, cache *store.RecordCache, opts ...Option) *Sequencer {
	s := &Sequencer{
		api:      api,
		cache:    cache,
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	WithContentTypes(DefaultContentTypes)(s)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "upload")
	return s
}

// Progress returns the in-flight progress, if a batch is running.
func (s *Sequencer) Progress() (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return Progress{}, false
	}
	return *s.progress, true
}

// Validate checks every file before anything is sent.
func (s *Sequencer) Validate(files []File) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	for _, f := range files {
		if _, ok := s.allowed[strings.ToLower(strings.TrimSpace(f.ContentType))]; !ok {
			return &ValidationError{
				File:   f.Name,
				Reason: fmt.Sprintf("%s is not a valid file type. Please select only JPG or PNG images.", f.Name),
			}
		}
		if f.Size > s.maxBytes {
			return &ValidationError{
				File:   f.Name,
				Reason: fmt.Sprintf("%s exceeds the %s size limit.", f.Name, formatLimit(s.maxBytes)),
			}
		}
	}
	return nil
}

// Upload validates the whole batch, then uploads the files in order. A
// network failure on one file does not stop the batch; an authentication
// failure does, and is returned along with the outcome so far.
func (s *Sequencer) Upload(ctx context.Context, files []File) (Outcome, error) {
	if err := s.Validate(files); err != nil {
		return Outcome{}, err
	}
	defer s.setProgress(nil)

	var (
		uploaded []domain.Writing
		failed   []string
	)
	total := len(files)
	for i, f := range files {
		s.setProgress(&Progress{Current: i + 1, Total: total})
		w, err := s.uploadOne(ctx, f)
		if err != nil {
			failed = append(failed, f.Name)
			s.logger.Warn("upload failed", "file", f.Name, "err", err)
			if errors.Is(err, domain.ErrUnauthorized) {
				return summarize(uploaded, failed), err
			}
			continue
		}
		uploaded = append(uploaded, w)
		s.cache.UpsertFront(store.PatchFromWriting(w))
		s.logger.Info("upload succeeded", "file", f.Name, "writing_id", w.ID)
	}
	return summarize(uploaded, failed), nil
}

func (s *Sequencer) uploadOne(ctx context.Context, f File) (domain.Writing, error) {
	rc, err := f.Open(ctx)
	if err != nil {
		return domain.Writing{}, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return s.api.UploadImage(ctx, f.Name, f.ContentType, rc)
}

func (s *Sequencer) setProgress(p *Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
	if p != nil && s.onProgress != nil {
		s.onProgress(*p)
	}
}

func summarize(uploaded []domain.Writing, failed []string) Outcome {
	out := Outcome{Uploaded: uploaded, Failed: failed}
	switch {
	case len(failed) == 0:
		out.Kind = AllSucceeded
		if len(uploaded) == 1 {
			out.Message = "Image uploaded successfully! Processing will begin shortly."
		} else {
			out.Message = fmt.Sprintf("%d images uploaded successfully! Processing will begin shortly.", len(uploaded))
		}
	case len(uploaded) > 0:
		out.Kind = PartiallySucceeded
		out.Message = fmt.Sprintf("%d file(s) uploaded successfully, but %d failed: %s",
			len(uploaded), len(failed), strings.Join(failed, ", "))
	default:
		out.Kind = AllFailed
		out.Message = fmt.Sprintf("Failed to upload all files: %s", strings.Join(failed, ", "))
	}
	return out
}

func formatLimit(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d byte", n)
}
