package attachments

import (
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
)

const fallbackMimeType = "application/octet-stream"

// sniffLen covers every header filetype inspects.
const sniffLen = 8192

var ErrNotFound = errors.New("attachment not found")

// FileDescriptor describes a picked file. Only the metadata is kept; the
// file contents never leave the host.
type FileDescriptor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Tray holds the files picked in the input bar.
type Tray struct {
	mu    sync.Mutex
	files []FileDescriptor
}

func NewTray() *Tray {
	return &Tray{}
}

func (t *Tray) Add(path string) (FileDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileDescriptor{}, errors.Wrapf(err, "open attachment %s", path)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return FileDescriptor{}, errors.Wrapf(err, "stat attachment %s", path)
	}
	if info.IsDir() {
		return FileDescriptor{}, errors.Errorf("attachment %s is a directory", path)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileDescriptor{}, errors.Wrapf(err, "read attachment %s", path)
	}

	fd := FileDescriptor{
		ID:       uuid.NewString(),
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: detectMimeType(head[:n], path),
	}
	t.mu.Lock()
	t.files = append(t.files, fd)
	t.mu.Unlock()
	return fd, nil
}

// Remove drops the file whose id is id, or starts with id when that prefix
// is unambiguous and at least 8 characters long.
func (t *Tray) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	match := -1
	for i, f := range t.files {
		if f.ID == id {
			match = i
			break
		}
		if len(id) >= 8 && strings.HasPrefix(f.ID, id) {
			if match >= 0 {
				return errors.Errorf("ambiguous attachment id %s", id)
			}
			match = i
		}
	}
	if match < 0 {
		return errors.Wrapf(ErrNotFound, "remove %s", id)
	}
	t.files = append(t.files[:match], t.files[match+1:]...)
	return nil
}

func (t *Tray) List() []FileDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FileDescriptor, len(t.files))
	copy(out, t.files)
	return out
}

func (t *Tray) Clear() {
	t.mu.Lock()
	t.files = nil
	t.mu.Unlock()
}

func detectMimeType(head []byte, path string) string {
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return fallbackMimeType
}
