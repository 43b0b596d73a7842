package agent

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed quizbank.yaml
var builtinQuizBank []byte

// quizBankFile is the on-disk layout of a quiz bank.
type quizBankFile struct {
	Default []QuizQuestion            `yaml:"default"`
	Videos  map[string][]QuizQuestion `yaml:"videos"`
}

// QuizBank serves canned quiz questions, optionally per video. A bank loaded
// from a file reloads itself when the file changes.
type QuizBank struct {
	mu     sync.RWMutex
	bank   quizBankFile
	path   string
	logger *slog.Logger
}

// BuiltinQuestions returns the fixed question set compiled into the binary.
func BuiltinQuestions() []QuizQuestion {
	bank, err := parseQuizBank(builtinQuizBank)
	if err != nil {
		panic(fmt.Sprintf("agent: invalid builtin quiz bank: %v", err))
	}
	return bank.Default
}

// NewQuizBank returns a bank backed by the builtin questions.
func NewQuizBank(logger *slog.Logger) *QuizBank {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizBank{
		bank:   quizBankFile{Default: BuiltinQuestions()},
		logger: logger,
	}
}

// LoadQuizBank reads a bank from path. Videos without questions of their own
// and a file without a default section fall back to the builtin questions.
func LoadQuizBank(path string, logger *slog.Logger) (*QuizBank, error) {
	b := NewQuizBank(logger)
	b.path = path
	if err := b.reload(); err != nil {
		return nil, err
	}
	return b, nil
}

func parseQuizBank(data []byte) (quizBankFile, error) {
	var f quizBankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return quizBankFile{}, fmt.Errorf("parse quiz bank: %w", err)
	}
	for i, q := range f.Default {
		if !q.Valid() {
			return quizBankFile{}, fmt.Errorf("parse quiz bank: default question %d is invalid", i)
		}
	}
	for video, qs := range f.Videos {
		for i, q := range qs {
			if !q.Valid() {
				return quizBankFile{}, fmt.Errorf("parse quiz bank: question %d of video %q is invalid", i, video)
			}
		}
	}
	return f, nil
}

func (b *QuizBank) reload() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("read quiz bank %s: %w", b.path, err)
	}
	f, err := parseQuizBank(data)
	if err != nil {
		return err
	}
	if len(f.Default) == 0 {
		f.Default = BuiltinQuestions()
	}
	b.mu.Lock()
	b.bank = f
	b.mu.Unlock()
	return nil
}

// Questions returns up to n questions for videoID. n <= 0 returns all.
func (b *QuizBank) Questions(videoID string, n int) []QuizQuestion {
	b.mu.RLock()
	defer b.mu.RUnlock()

	src := b.bank.Videos[videoID]
	if len(src) == 0 {
		src = b.bank.Default
	}
	if n <= 0 || n > len(src) {
		n = len(src)
	}
	out := make([]QuizQuestion, n)
	for i := range out {
		q := src[i]
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}

// Watch reloads the bank whenever its file is written or replaced. It
// returns once the watcher is installed; the watch ends with ctx.
func (b *QuizBank) Watch(ctx context.Context) error {
	if b.path == "" {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create quiz bank watcher: %w", err)
	}
	// Watch the directory: editors often replace the file by rename.
	if err := fsw.Add(filepath.Dir(b.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch quiz bank dir: %w", err)
	}

	target := filepath.Clean(b.path)
	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := b.reload(); err != nil {
					b.logger.Warn("quiz bank reload failed, keeping previous questions", "path", b.path, "error", err)
					continue
				}
				b.logger.Info("quiz bank reloaded", "path", b.path, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				b.logger.Error("quiz bank watcher error", "error", err)
			}
		}
	}()
	return nil
}
