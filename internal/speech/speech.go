// Package speech turns recorded answers into text for the answer evaluator.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gspeech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Transcriber converts audio to text. An empty string means nothing was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, languageCode string) (string, error)
}

// LanguageCodes maps learner languages to BCP-47 recognition codes.
var LanguageCodes = map[string]string{
	"russian": "ru-RU",
	"english": "en-US",
	"korean":  "ko-KR",
	"uzbek":   "uz-UZ",
}

// recognizer is the slice of the Speech client this package calls.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type clientRecognizer struct {
	c *gspeech.Client
}

func (r clientRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.c.Recognize(ctx, req)
}

func (r clientRecognizer) Close() error {
	return r.c.Close()
}

// Google transcribes short utterances with Cloud Speech-to-Text synchronous recognition.
type Google struct {
	rec        recognizer
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

// NewGoogle creates a client using application default credentials.
func NewGoogle(ctx context.Context, logger *slog.Logger) (*Google, error) {
	c, err := gspeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return newGoogle(clientRecognizer{c: c}, logger), nil
}

func newGoogle(rec recognizer, logger *slog.Logger) *Google {
	if logger == nil {
		logger = slog.Default()
	}
	return &Google{
		rec:        rec,
		logger:     logger.With("service", "speech.Google"),
		timeout:    30 * time.Second,
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
	}
}

// Close releases the underlying client.
func (g *Google) Close() error {
	if g == nil || g.rec == nil {
		return nil
	}
	return g.rec.Close()
}

// Transcribe implements Transcriber.
func (g *Google) Transcribe(ctx context.Context, audio []byte, mimeType, languageCode string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	if languageCode == "" {
		languageCode = "ru-RU"
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               languageCode,
			Encoding:                   inferEncoding(mimeType),
			EnableAutomaticPunctuation: false,
		},
		Audio: &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}

	resp, err := g.recognizeWithRetry(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}
	text := joinTranscripts(resp)
	g.logger.Debug("audio transcribed", "language", languageCode, "bytes", len(audio), "chars", len(text))
	return text, nil
}

func (g *Google) recognizeWithRetry(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	backoff := g.backoff
	var last error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := g.rec.Recognize(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == g.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, last
}

func joinTranscripts(resp *speechpb.RecognizeResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		t := strings.TrimSpace(alts[0].GetTranscript())
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(t)
	}
	return b.String()
}

func inferEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3"), strings.Contains(m, "mpeg"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg"), strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

var _ Transcriber = (*Google)(nil)
