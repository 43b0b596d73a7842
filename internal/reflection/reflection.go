// Package reflection persists learner reflections and their media.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/vidsync-labs/internal/domain"
)

var (
	// ErrInvalidSubmission is returned for a submission that cannot be saved.
	ErrInvalidSubmission = errors.New("invalid reflection submission")
	// ErrMediaTooLarge is returned when an uploaded recording exceeds the limit.
	ErrMediaTooLarge = errors.New("reflection media too large")
)

// MaxMediaSize bounds an uploaded recording.
const MaxMediaSize = 50 << 20

// Media is an uploaded recording.
type Media struct {
	Name        string
	ContentType string
	Data        []byte
}

// Submission is what the learner submitted.
type Submission struct {
	UserID      string
	SessionID   string
	VideoID     string
	CourseID    string
	Timestamp   float64
	Type        string
	TextContent string
	LoomLink    string
	Media       *Media
}

// Saved is the persisted record's metadata.
type Saved struct {
	ID       string
	MediaURL string
	SavedAt  time.Time
}

// Saver persists a submission.
type Saver interface {
	Save(ctx context.Context, sub Submission) (Saved, error)
}

// Repository is the subset of the store the service writes to.
type Repository interface {
	SaveReflection(ctx context.Context, r *domain.Reflection) error
}

// Service stores media on disk and the reflection record in the repository.
type Service struct {
	repo      Repository
	mediaDir  string
	mediaBase string
	now       func() time.Time
	logger    *slog.Logger
}

// NewService returns a service writing media under mediaDir, served at
// mediaBase (for example "/media").
func NewService(repo Repository, mediaDir, mediaBase string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		mediaDir:  mediaDir,
		mediaBase: strings.TrimRight(mediaBase, "/"),
		now:       time.Now,
		logger:    logger,
	}
}

// Validate checks a submission without saving it.
func Validate(sub Submission) error {
	if !domain.ValidReflectionType(sub.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSubmission, sub.Type)
	}
	switch sub.Type {
	case domain.ReflectionText:
		if strings.TrimSpace(sub.TextContent) == "" {
			return fmt.Errorf("%w: text reflection is empty", ErrInvalidSubmission)
		}
	case domain.ReflectionLoom:
		if !strings.HasPrefix(sub.LoomLink, "https://") {
			return fmt.Errorf("%w: loom link must be an https URL", ErrInvalidSubmission)
		}
	case domain.ReflectionVoice, domain.ReflectionScreen:
		if sub.Media == nil || len(sub.Media.Data) == 0 {
			return fmt.Errorf("%w: %s reflection needs a recording", ErrInvalidSubmission, sub.Type)
		}
	}
	if sub.Media != nil && len(sub.Media.Data) > MaxMediaSize {
		return ErrMediaTooLarge
	}
	return nil
}

// Save implements Saver.
func (s *Service) Save(ctx context.Context, sub Submission) (Saved, error) {
	if err := Validate(sub); err != nil {
		return Saved{}, err
	}

	id := uuid.NewString()
	now := s.now()

	var mediaURL, mediaPath string
	if sub.Media != nil && len(sub.Media.Data) > 0 {
		var err error
		mediaPath, mediaURL, err = s.writeMedia(sub.UserID, id, sub.Media)
		if err != nil {
			return Saved{}, err
		}
	}

	rec := &domain.Reflection{
		ID:             id,
		UserID:         sub.UserID,
		SessionID:      sub.SessionID,
		VideoID:        sub.VideoID,
		CourseID:       sub.CourseID,
		VideoTimestamp: sub.Timestamp,
		Type:           sub.Type,
		TextContent:    sub.TextContent,
		LoomLink:       sub.LoomLink,
		MediaURL:       mediaURL,
		CreatedAt:      now,
	}
	if err := s.repo.SaveReflection(ctx, rec); err != nil {
		if mediaPath != "" {
			if rmErr := os.Remove(mediaPath); rmErr != nil {
				s.logger.Warn("failed to remove orphaned reflection media", "path", mediaPath, "error", rmErr)
			}
		}
		return Saved{}, fmt.Errorf("save reflection: %w", err)
	}

	s.logger.Info("reflection saved",
		"reflection_id", id,
		"user_id", sub.UserID,
		"video_id", sub.VideoID,
		"type", sub.Type,
	)
	return Saved{ID: id, MediaURL: mediaURL, SavedAt: now}, nil
}

func (s *Service) writeMedia(userID, id string, m *Media) (string, string, error) {
	dir := filepath.Join(s.mediaDir, safeName(userID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", fmt.Errorf("create media dir: %w", err)
	}

	name := id + mediaExt(m)
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, m.Data, 0o640); err != nil {
		return "", "", fmt.Errorf("write media: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", "", fmt.Errorf("commit media: %w", err)
	}
	return final, path.Join(s.mediaBase, safeName(userID), name), nil
}

func mediaExt(m *Media) string {
	if ext := filepath.Ext(m.Name); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(m.ContentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
