// Package media stores uploaded sighting imagery on the local
// filesystem and derives the rendition set clients consume: thumbnail,
// web and preview sizes alongside the original.
package media

import (
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/config"
)

// maxUploadBytes bounds one upload.
const maxUploadBytes = 32 << 20

// Storage persists uploads and produces MediaFile records.
type Storage interface {
	// Save stores one uploaded file under the sighting and returns its
	// record with all rendition URLs populated.
	Save(sightingID string, header *multipart.FileHeader) (*beep.MediaFile, error)
}

// FileStorage is filesystem-backed storage. Renditions are best-effort:
// when decoding or resizing fails (videos, exotic formats), every
// rendition URL falls back to the original upload.
type FileStorage struct {
	dir         string
	baseURL     string
	thumbnailPx int
	webPx       int
	previewPx   int
	log         *logrus.Entry
}

// NewFileStorage builds storage rooted at cfg.Dir, creating it when
// missing.
func NewFileStorage(cfg config.MediaConfig, log *logrus.Entry) (*FileStorage, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("media storage dir not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FileStorage{
		dir:         cfg.Dir,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		thumbnailPx: orDefault(cfg.ThumbnailPx, 256),
		webPx:       orDefault(cfg.WebPx, 1280),
		previewPx:   orDefault(cfg.PreviewPx, 640),
		log:         log,
	}, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Save writes the original and derives renditions for images.
func (s *FileStorage) Save(sightingID string, header *multipart.FileHeader) (*beep.MediaFile, error) {
	if header.Size > maxUploadBytes {
		return nil, fmt.Errorf("upload too large: %d bytes", header.Size)
	}

	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	kind := kindFor(ext)

	dir := filepath.Join(s.dir, sightingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sighting media dir: %w", err)
	}

	originalName := id + ext
	originalPath := filepath.Join(dir, originalName)
	size, err := writeFile(originalPath, src)
	if err != nil {
		return nil, err
	}

	file := &beep.MediaFile{
		ID:       id,
		Kind:     kind,
		Filename: header.Filename,
		Size:     size,
		URL:      s.urlFor(sightingID, originalName),
	}
	// Fall back to the original for every rendition; image resizing
	// below upgrades them individually.
	file.ThumbnailURL = file.URL
	file.WebURL = file.URL
	file.PreviewURL = file.URL

	if kind == beep.MediaImage {
		s.renditions(file, sightingID, originalPath, id, ext)
	}
	return file, nil
}

// renditions derives the resized variants. Failures are logged, never
// fatal: the original stays usable.
func (s *FileStorage) renditions(file *beep.MediaFile, sightingID, originalPath, id, ext string) {
	img, err := imaging.Open(originalPath, imaging.AutoOrientation(true))
	if err != nil {
		s.log.WithError(err).WithField("file", originalPath).Warn("Image decode failed, serving original only")
		return
	}

	variants := []struct {
		suffix string
		px     int
		target *string
	}{
		{"thumb", s.thumbnailPx, &file.ThumbnailURL},
		{"web", s.webPx, &file.WebURL},
		{"preview", s.previewPx, &file.PreviewURL},
	}
	for _, v := range variants {
		name := fmt.Sprintf("%s_%s%s", id, v.suffix, ext)
		path := filepath.Join(s.dir, sightingID, name)
		if err := s.saveResized(img, path, v.px); err != nil {
			s.log.WithError(err).WithField("file", path).Warn("Rendition failed, serving original")
			continue
		}
		*v.target = s.urlFor(sightingID, name)
	}
}

func (s *FileStorage) saveResized(img image.Image, path string, boundPx int) error {
	resized := imaging.Fit(img, boundPx, boundPx, imaging.Lanczos)
	return imaging.Save(resized, path)
}

func (s *FileStorage) urlFor(sightingID, name string) string {
	return s.baseURL + "/" + sightingID + "/" + name
}

func writeFile(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating media file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, io.LimitReader(src, maxUploadBytes))
	if err != nil {
		return 0, fmt.Errorf("writing media file: %w", err)
	}
	return size, nil
}

func kindFor(ext string) beep.MediaKind {
	switch ext {
	case ".mp4", ".mov", ".webm", ".mkv", ".avi":
		return beep.MediaVideo
	default:
		return beep.MediaImage
	}
}
