package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleBank = `
default:
  - id: d1
    question: Default question?
    options: [yes, no]
    correct_answer: 0
videos:
  vid-1:
    - id: v1
      question: Video question one?
      options: [a, b, c]
      correct_answer: 2
    - id: v2
      question: Video question two?
      options: [a, b]
      correct_answer: 1
`

func TestBuiltinQuestionsAreValid(t *testing.T) {
	qs := BuiltinQuestions()
	if len(qs) < 3 {
		t.Fatalf("expected at least 3 builtin questions, got %d", len(qs))
	}
	for _, q := range qs {
		if !q.Valid() {
			t.Fatalf("builtin question %q is invalid", q.ID)
		}
	}
}

func TestLoadQuizBankPerVideo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "quiz.yaml")
	if err := os.WriteFile(path, []byte(sampleBank), 0o600); err != nil {
		t.Fatal(err)
	}
	bank, err := LoadQuizBank(path, nil)
	if err != nil {
		t.Fatalf("LoadQuizBank failed: %v", err)
	}

	if qs := bank.Questions("vid-1", 3); len(qs) != 2 || qs[0].ID != "v1" {
		t.Fatalf("unexpected video questions %+v", qs)
	}
	if qs := bank.Questions("unknown", 3); len(qs) != 1 || qs[0].ID != "d1" {
		t.Fatalf("unexpected default questions %+v", qs)
	}
	if qs := bank.Questions("vid-1", 1); len(qs) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(qs))
	}
}

func TestLoadQuizBankRejectsInvalidQuestion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "quiz.yaml")
	bad := "default:\n  - id: x\n    question: Broken?\n    options: [only]\n    correct_answer: 3\n"
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadQuizBank(path, nil); err == nil {
		t.Fatal("expected invalid question to be rejected")
	}
}

func TestQuizBankWatchReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "quiz.yaml")
	if err := os.WriteFile(path, []byte(sampleBank), 0o600); err != nil {
		t.Fatal(err)
	}
	bank, err := LoadQuizBank(path, nil)
	if err != nil {
		t.Fatalf("LoadQuizBank failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bank.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	updated := "default:\n  - id: fresh\n    question: Fresh?\n    options: [a, b]\n    correct_answer: 1\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if qs := bank.Questions("", 1); len(qs) == 1 && qs[0].ID == "fresh" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("quiz bank did not reload after write")
}

func TestQuizBankQuestionsAreCopies(t *testing.T) {
	bank := NewQuizBank(nil)
	qs := bank.Questions("", 1)
	qs[0].Options[0] = "mutated"
	if bank.Questions("", 1)[0].Options[0] == "mutated" {
		t.Fatal("Questions must not expose bank storage")
	}
}
