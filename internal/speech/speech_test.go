package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeRecognizer struct {
	errs  []error
	resp  *speechpb.RecognizeResponse
	calls int
	last  *speechpb.RecognizeRequest
}

func (f *fakeRecognizer) Recognize(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	f.calls++
	f.last = req
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func (f *fakeRecognizer) Close() error { return nil }

func result(texts ...string) *speechpb.RecognizeResponse {
	resp := &speechpb.RecognizeResponse{}
	for _, t := range texts {
		resp.Results = append(resp.Results, &speechpb.SpeechRecognitionResult{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: t}},
		})
	}
	return resp
}

func TestTranscribeJoinsResults(t *testing.T) {
	rec := &fakeRecognizer{resp: result(" hello ", "", "world")}
	g := newGoogle(rec, nil)

	got, err := g.Transcribe(context.Background(), []byte{1, 2}, "audio/ogg", "en-US")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "hello world" {
		t.Errorf("Transcribe() = %q, want %q", got, "hello world")
	}
	if enc := rec.last.GetConfig().GetEncoding(); enc != speechpb.RecognitionConfig_OGG_OPUS {
		t.Errorf("encoding = %v, want OGG_OPUS", enc)
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	rec := &fakeRecognizer{}
	g := newGoogle(rec, nil)

	got, err := g.Transcribe(context.Background(), nil, "audio/wav", "")
	if err != nil || got != "" {
		t.Errorf("Transcribe(nil) = %q, %v", got, err)
	}
	if rec.calls != 0 {
		t.Errorf("recognizer called %d times for empty audio", rec.calls)
	}
}

func TestTranscribeRetriesUnavailable(t *testing.T) {
	rec := &fakeRecognizer{
		errs: []error{status.Error(codes.Unavailable, "try again")},
		resp: result("собака"),
	}
	g := newGoogle(rec, nil)
	g.backoff = time.Millisecond

	got, err := g.Transcribe(context.Background(), []byte{1}, "audio/webm", "ru-RU")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "собака" || rec.calls != 2 {
		t.Errorf("Transcribe() = %q after %d calls", got, rec.calls)
	}
}

func TestTranscribeDoesNotRetryPermanentErrors(t *testing.T) {
	rec := &fakeRecognizer{errs: []error{status.Error(codes.InvalidArgument, "bad audio")}}
	g := newGoogle(rec, nil)

	_, err := g.Transcribe(context.Background(), []byte{1}, "audio/wav", "en-US")
	if status.Code(errors.Unwrap(err)) != codes.InvalidArgument {
		t.Errorf("error = %v, want InvalidArgument", err)
	}
	if rec.calls != 1 {
		t.Errorf("calls = %d, want 1", rec.calls)
	}
}
