package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/orchestrator"
)

const stepTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	var (
		bankPath string
		summary  bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Run a replay script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], bankPath, summary, verbose)
		},
	}

	cmd.Flags().StringVar(&bankPath, "quiz-bank", "", "path to a YAML quiz bank (defaults to the builtin questions)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print one summary line per transition instead of JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log orchestrator activity to stderr")
	return cmd
}

func runReplay(ctx context.Context, out, errOut io.Writer, path, bankPath string, summary, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := loadScript(path)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	bank := agent.NewQuizBank(logger)
	if bankPath != "" {
		if bank, err = agent.LoadQuizBank(bankPath, logger); err != nil {
			return err
		}
	}

	clock := &scriptClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	vc := &scriptedVideo{}
	o := orchestrator.New(orchestrator.Config{
		UserID:           s.UserID,
		SessionID:        s.SessionID,
		Generator:        agent.NewCanned(bank),
		Reflections:      discardSaver{},
		Clock:            clock,
		Logger:           logger,
		CountdownSeconds: s.CountdownSeconds,
		QuestionCount:    s.QuestionCount,
	})
	defer o.Close()

	p := &printer{out: out, summary: summary}
	unsubscribe := o.Subscribe(p.print)
	defer unsubscribe()

	if err := o.SetVideo(vc, s.Video.meta()); err != nil {
		return err
	}
	if err := wait(ctx, o); err != nil {
		return err
	}

	for i, st := range s.Steps {
		switch {
		case st.Seek != nil:
			vc.seek(*st.Seek)
			continue
		case st.PauseFailures != 0:
			vc.failPauses(st.PauseFailures)
			continue
		}

		var a orchestrator.Action
		if st.Accept || st.Reject {
			id := latestPrompt(o.Context())
			if id == "" {
				return fmt.Errorf("step %d: no agent prompt to answer", i+1)
			}
			if st.Accept {
				a = orchestrator.Accept{MessageID: id}
			} else {
				a = orchestrator.Reject{MessageID: id}
			}
		} else if a, err = st.decode(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}

		if _, err := o.Dispatch(a); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := wait(ctx, o); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return p.err
}

func wait(ctx context.Context, o *orchestrator.Orchestrator) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return o.WaitIdle(ctx)
}

func latestPrompt(c orchestrator.SystemContext) string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Type == orchestrator.MessageAgentPrompt && m.State == orchestrator.MessageUnactivated {
			return m.ID
		}
	}
	return ""
}

// printer writes committed contexts. It runs on the orchestrator worker.
type printer struct {
	out     io.Writer
	summary bool

	mu  sync.Mutex
	err error
}

func (p *printer) print(c orchestrator.SystemContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	if p.summary {
		last := ""
		if n := len(c.Messages); n > 0 {
			last = c.Messages[n-1].Message
		}
		_, p.err = fmt.Fprintf(p.out, "%d\t%s\tagent=%s\tmessages=%d\t%s\n",
			c.Revision, c.State, c.Agent.ActiveType, len(c.Messages), last)
		return
	}
	b, err := json.Marshal(c)
	if err != nil {
		p.err = err
		return
	}
	_, p.err = fmt.Fprintln(p.out, string(b))
}
