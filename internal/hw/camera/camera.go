package camera

import (
	"context"
	"image"

	"github.com/cjeanneret/vibecast/internal/imageio"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract fisheye "camera", regardless of how frames are
// obtained (network snapshot API, file on disk, etc.).
type Camera interface {
	// Snapshot returns one decoded frame.
	Snapshot(ctx context.Context) (image.Image, error)
}

// File is a Camera that decodes the same image file on every snapshot.
type File struct {
	Path string
}

// NewFile returns a camera reading from path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Snapshot decodes the file.
func (f *File) Snapshot(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return imageio.DecodeFile(f.Path)
}
