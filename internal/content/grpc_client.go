package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/capylingo/internal/domain"
)

// ContentServiceName is the gRPC service the content sidecar registers.
// Requests and replies are google.protobuf.Struct messages.
const ContentServiceName = "capylingo.content.v1.ContentService"

const (
	methodGenerateExercise = "/" + ContentServiceName + "/GenerateExercise"
	methodGenerateGame     = "/" + ContentServiceName + "/GenerateGame"
	methodJudge            = "/" + ContentServiceName + "/Judge"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration for addr.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcClient is a Generator and Judge backed by a content sidecar over gRPC.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGrpcClient connects to the content sidecar and fails fast if it is not ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to content service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("content service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("connected to content service", "address", cfg.Address)
	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
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

// Health checks the sidecar through the standard gRPC health service.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ContentServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("content service status %s", resp.GetStatus())
	}
	return nil
}

// GenerateExercise implements Generator.
func (c *GrpcClient) GenerateExercise(ctx context.Context, req domain.ExerciseRequest) (domain.Exercise, error) {
	excluded := make([]any, len(req.ExcludeHashes))
	for i, h := range req.ExcludeHashes {
		excluded[i] = h
	}
	raw, err := c.invoke(ctx, methodGenerateExercise, map[string]any{
		"learn_language":  req.LearnLanguage,
		"native_language": req.NativeLanguage,
		"level":           req.Level,
		"topic":           req.Topic,
		"exclude_hashes":  excluded,
	})
	if err != nil {
		return domain.Exercise{}, fmt.Errorf("generate exercise: %w", err)
	}
	return DecodeExercise(raw)
}

// GenerateGame implements Generator.
func (c *GrpcClient) GenerateGame(ctx context.Context, req domain.GameRequest) (domain.Game, error) {
	raw, err := c.invoke(ctx, methodGenerateGame, map[string]any{
		"learn_language":  req.LearnLanguage,
		"native_language": req.NativeLanguage,
		"level":           req.Level,
		"topic":           req.Topic,
		"game_type":       string(req.GameType),
	})
	if err != nil {
		return domain.Game{}, fmt.Errorf("generate game: %w", err)
	}
	return DecodeGame(raw, req.GameType)
}

// Judge implements Judge. The reply carries the label in its "verdict" field.
func (c *GrpcClient) Judge(ctx context.Context, userAnswer, correctAnswer string, ageGroup domain.AgeGroup) (domain.Verdict, error) {
	raw, err := c.invoke(ctx, methodJudge, map[string]any{
		"user_answer":    userAnswer,
		"correct_answer": correctAnswer,
		"age_group":      string(ageGroup),
	})
	if err != nil {
		return domain.VerdictAlmost, fmt.Errorf("judge answer: %w", err)
	}
	var reply struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return domain.VerdictAlmost, fmt.Errorf("%w: decode judge reply: %w", ErrMalformed, err)
	}
	return ParseJudgeReply(reply.Verdict)
}

// invoke sends a Struct request and returns the reply Struct as JSON text.
func (c *GrpcClient) invoke(ctx context.Context, method string, fields map[string]any) (string, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out, grpc.WaitForReady(true)); err != nil {
		return "", err
	}
	b, err := json.Marshal(out.AsMap())
	if err != nil {
		return "", fmt.Errorf("%w: encode reply: %w", ErrMalformed, err)
	}
	return string(b), nil
}

var (
	_ Generator = (*GrpcClient)(nil)
	_ Judge     = (*GrpcClient)(nil)
)
