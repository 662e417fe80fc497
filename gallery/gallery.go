// Package gallery stores the signed-in user's pictures as JPEG data URLs
// inside the user record, newest first.
package gallery

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"crudzocial/activity"
	"crudzocial/models"
	"crudzocial/session"
	"crudzocial/users"
)

const (
	MaxWidth    = 600
	JPEGQuality = 70

	dataURLPrefix = "data:image/jpeg;base64,"
)

// DefaultMaxPixels bounds the decoded size of an upload, about 100 MB as RGBA.
const DefaultMaxPixels = 25_000_000

const (
	ReasonAdd    = "Saved an image"
	ReasonDelete = "Deleted an image"
)

var (
	ErrTooLarge         = errors.New("image exceeds the upload limit")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrNotFound         = errors.New("image not found")
)

type Service struct {
	sessions  *session.Manager
	users     *users.Store
	recorder  *activity.Recorder
	maxBytes  int64
	maxPixels int64
	now       func() time.Time
}

// NewService rejects uploads larger than maxBytes. A non-positive limit
// disables the check.
func NewService(sessions *session.Manager, userStore *users.Store, recorder *activity.Recorder, maxBytes int64) *Service {
	return &Service{
		sessions:  sessions,
		users:     userStore,
		recorder:  recorder,
		maxBytes:  maxBytes,
		maxPixels: DefaultMaxPixels,
		now:       time.Now,
	}
}

// SetMaxPixels changes the largest width*height accepted for an upload. A
// non-positive value disables the check.
func (s *Service) SetMaxPixels(n int64) {
	s.maxPixels = n
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) readLimited(r io.Reader) ([]byte, error) {
	if s.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	return raw, nil
}

// Encode downscales img to at most MaxWidth pixels wide, keeping the aspect
// ratio, and returns it as a JPEG data URL.
func Encode(img image.Image) (string, error) {
	bounds := img.Bounds()
	if w := bounds.Dx(); w > MaxWidth {
		h := bounds.Dy() * MaxWidth / w
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, MaxWidth, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Add decodes an upload, re-encodes it and prepends it to the gallery.
func (s *Service) Add(ctx context.Context, r io.Reader) (*models.ImageEntry, error) {
	id, err := s.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := s.readLimited(r)
	if err != nil {
		return nil, err
	}
	// The header is enough to refuse images whose pixel buffer would not fit.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if s.maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > s.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	data, err := Encode(img)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry := s.recorder.Entry(ReasonAdd)
	var saved models.ImageEntry
	err = s.users.Mutate(ctx, id, func(u *models.User) error {
		imageID := now.UnixMilli()
		for _, im := range u.Images {
			if im.ID >= imageID {
				imageID = im.ID + 1
			}
		}
		saved = models.ImageEntry{ID: imageID, Data: data, CreatedAt: now}
		u.Images = append([]models.ImageEntry{saved}, u.Images...)
		u.Logs = append(u.Logs, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Service) Delete(ctx context.Context, imageID int64) error {
	id, err := s.sessions.Current(ctx)
	if err != nil {
		return err
	}
	entry := s.recorder.Entry(ReasonDelete)
	return s.users.Mutate(ctx, id, func(u *models.User) error {
		for i := range u.Images {
			if u.Images[i].ID == imageID {
				u.Images = append(u.Images[:i], u.Images[i+1:]...)
				u.Logs = append(u.Logs, entry)
				return nil
			}
		}
		return ErrNotFound
	})
}

func (s *Service) List(ctx context.Context) ([]models.ImageEntry, error) {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return user.Images, nil
}
