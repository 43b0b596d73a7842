package agent

import (
	"context"
	"log/slog"
	"time"
)

// DefaultUpgradeMessage is shown when a free-tier learner hits the limit.
const DefaultUpgradeMessage = "You've reached the free AI limit for now. Upgrade to keep getting hints, quizzes and learning paths."

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	// RateLimitRequests per RateLimitWindow per user. Zero disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Timeout           time.Duration
	UpgradeMessage    string
	QuestionCount     int
}

// Service fronts a Generator with per-user rate limiting and a deadline.
type Service struct {
	gen     Generator
	limiter *RateLimiter
	cfg     ServiceConfig
	logger  *slog.Logger
}

// NewService wraps gen.
func NewService(gen Generator, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UpgradeMessage == "" {
		cfg.UpgradeMessage = DefaultUpgradeMessage
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 3
	}
	s := &Service{gen: gen, cfg: cfg, logger: logger}
	if cfg.RateLimitRequests > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	return s
}

// Generate implements Generator.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	if s.gen == nil {
		return Result{}, ErrNoGenerator
	}
	if req.AgentType == TypeQuiz && req.QuestionCount <= 0 {
		req.QuestionCount = s.cfg.QuestionCount
	}

	if s.limiter != nil {
		key := req.UserID
		if key == "" {
			key = "anonymous"
		}
		if !s.limiter.Allow(key) {
			s.logger.Info("generation rate limited",
				"user_id", req.UserID,
				"session_id", req.SessionID,
				"agent_type", req.AgentType,
			)
			return Result{RateLimited: true, UpgradeMessage: s.cfg.UpgradeMessage}, nil
		}
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.gen.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("generation failed",
			"user_id", req.UserID,
			"agent_type", req.AgentType,
			"duration", time.Since(start),
			"error", err,
		)
		return Result{}, err
	}
	if res.RateLimited && res.UpgradeMessage == "" {
		res.UpgradeMessage = s.cfg.UpgradeMessage
	}
	return res, nil
}

// Close releases the limiter and the underlying generator if it holds
// resources.
func (s *Service) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if c, ok := s.gen.(interface{ Close() }); ok {
		c.Close()
	}
}
