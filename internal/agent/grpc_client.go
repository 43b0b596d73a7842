package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the full gRPC method name of the generator service.
const GenerateMethod = "/tutor.v1.GeneratorService/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyGeneration          = errors.New("generator returned no content")
)

// GrpcClient calls the remote response generator. Requests and responses
// travel as google.protobuf.Struct so no generated stubs are needed.
type GrpcClient struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended after the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   20 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the generator and waits until the connection is
// ready so a bad endpoint fails at startup.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to response generator", "address", cfg.Address)
	return &GrpcClient{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// generateResponse mirrors the Struct returned by the generator.
type generateResponse struct {
	Text      string         `json:"text"`
	Questions []QuizQuestion `json:"questions"`
}

// Generate implements Generator.
func (c *GrpcClient) Generate(ctx context.Context, req Request) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := structpb.NewStruct(map[string]any{
		"user_id":         req.UserID,
		"session_id":      req.SessionID,
		"agent_type":      string(req.AgentType),
		"video_timestamp": req.VideoTimestamp,
		"video_id":        req.VideoID,
		"course_id":       req.CourseID,
		"question_count":  float64(req.QuestionCount),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode generate request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
			c.logger.Info("generator rate limited request",
				"user_id", req.UserID,
				"agent_type", req.AgentType,
			)
			return Result{RateLimited: true, UpgradeMessage: st.Message()}, nil
		}
		return Result{}, fmt.Errorf("generate request failed: %w", err)
	}

	return decodeGenerateResponse(req.AgentType, out)
}

func decodeGenerateResponse(agentType Type, out *structpb.Struct) (Result, error) {
	raw, err := json.Marshal(out.AsMap())
	if err != nil {
		return Result{}, fmt.Errorf("decode generate response: %w", err)
	}
	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("decode generate response: %w", err)
	}

	if agentType == TypeQuiz {
		questions := make([]QuizQuestion, 0, len(resp.Questions))
		for _, q := range resp.Questions {
			if q.Valid() {
				questions = append(questions, q)
			}
		}
		if len(questions) == 0 {
			return Result{}, errEmptyGeneration
		}
		return Result{Questions: questions}, nil
	}
	if resp.Text == "" {
		return Result{}, errEmptyGeneration
	}
	return Result{Text: resp.Text}, nil
}
