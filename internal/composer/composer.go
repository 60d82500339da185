// Package composer accumulates the draft state for one room: pending text
// plus zero or more staged local files, with the per-file size ceiling
// enforced at selection time and a single-send-in-flight gate.
package composer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/engiflow/engiflow-chat/internal/domain"
)

// ErrSendInFlight is returned while a previous send has not settled.
var ErrSendInFlight = errors.New("a send is already in flight")

// ErrNothingToSend is returned when both text and staged files are empty.
var ErrNothingToSend = errors.New("nothing to send")

// StagedFile is a local file queued for the next send.
type StagedFile struct {
	Filename string
	MimeType string
	Size     int64
	Path     string
	Content  []byte // in-memory alternative to Path
}

// Open returns the file's content for upload.
func (f StagedFile) Open() (io.ReadCloser, error) {
	if f.Content != nil {
		return io.NopCloser(bytes.NewReader(f.Content)), nil
	}
	return os.Open(f.Path)
}

// Composer is the draft state for one room.
type Composer struct {
	maxFileSize int64

	mu      sync.Mutex
	text    string
	files   []StagedFile
	sending bool
}

// New creates a composer with the given per-file size ceiling.
func New(maxFileSize int64) *Composer {
	if maxFileSize <= 0 {
		maxFileSize = domain.MaxAttachmentSize
	}
	return &Composer{maxFileSize: maxFileSize}
}

// SetText replaces the draft text.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

// Text returns the current draft text.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// StageFiles queues files for the next send. Files over the size ceiling
// are rejected and named in the returned error; the valid subset from the
// same selection is still staged.
func (c *Composer) StageFiles(files ...StagedFile) error {
	var oversized []string
	var valid []StagedFile
	for _, f := range files {
		if f.Size > c.maxFileSize {
			oversized = append(oversized, f.Filename)
			continue
		}
		valid = append(valid, f)
	}

	c.mu.Lock()
	c.files = append(c.files, valid...)
	c.mu.Unlock()

	if len(oversized) > 0 {
		return &domain.OversizeError{Filenames: oversized}
	}
	return nil
}

// Staged returns the queued files.
func (c *Composer) Staged() []StagedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StagedFile, len(c.files))
	copy(out, c.files)
	return out
}

// RemoveStaged drops one queued file by index.
func (c *Composer) RemoveStaged(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.files) {
		return
	}
	c.files = append(c.files[:i], c.files[i+1:]...)
}

// Sending reports whether a send is in flight; the submit control stays
// inert while true.
func (c *Composer) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// BeginSend snapshots the draft and marks a send in flight. The draft text
// clears immediately for optimistic feel; staged files clear only after
// FinishSend reports success.
func (c *Composer) BeginSend() (string, []StagedFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sending {
		return "", nil, ErrSendInFlight
	}
	if c.text == "" && len(c.files) == 0 {
		return "", nil, ErrNothingToSend
	}

	text := c.text
	files := make([]StagedFile, len(c.files))
	copy(files, c.files)

	c.text = ""
	c.sending = true
	return text, files, nil
}

// FinishSend settles the in-flight send. On success all staged state
// clears; on failure the files stay queued for a retry.
func (c *Composer) FinishSend(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if success {
		c.files = nil
	}
}
