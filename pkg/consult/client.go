// Package consult is the HTTP client for the consultation backend.
//
// The backend exchanges multipart form bodies for transcripts, summaries, and
// spoken answers:
//
//   - POST /consultation/voice              ambient audio, returns reply audio
//   - GET  /consultation/{id}/summary       doctor/patient views and transcript
//   - POST /consultation/{id}/qa            text question, returns JSON answer
//   - POST /consultation/{id}/qa/voice      spoken question, returns reply audio
//
// The client never retries. Callers own retry and backoff policy.
package consult

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// PlaceholderConsultationID is the identifier assumed when the backend does
// not report one. Summaries are never polled for it.
const PlaceholderConsultationID = "demo-consultation"

// DefaultBaseURL is the backend address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

const maxBodyBytes = 64 << 20

// ErrNoConsultation is returned when an operation needs a consultation ID and
// none was given.
var ErrNoConsultation = errors.New("consult: consultation id is required")

// ErrAudioTooLarge is returned when reply audio exceeds the client's size
// limit. The partial body is discarded.
var ErrAudioTooLarge = errors.New("consult: reply audio too large")

// StatusError reports a non-success HTTP status from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("consult: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("consult: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Guard wraps each backend call, typically with a circuit breaker.
type Guard interface {
	Execute(fn func() error) error
}

// Client talks to the consultation backend. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	guard    Guard
	maxAudio int64
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMaxAudioBytes caps the size of reply audio. The default is 64 MiB.
func WithMaxAudioBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAudio = n
		}
	}
}

// WithGuard routes every request through g.
func WithGuard(g Guard) Option {
	return func(c *Client) { c.guard = g }
}

// New creates a client for the backend at baseURL (default [DefaultBaseURL]).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 60 * time.Second},
		maxAudio: maxBodyBytes,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AmbientReply is the result of [Client.SubmitAmbientAudio].
type AmbientReply struct {
	SessionID      string
	ConsultationID string
	Audio          audio.Clip
}

// SubmitAmbientAudio uploads a consultation recording. sessionID may be
// empty for the first upload. When triggerSummary is set the backend starts
// summary generation.
func (c *Client) SubmitAmbientAudio(ctx context.Context, clip audio.Clip, sessionID string, triggerSummary bool) (AmbientReply, error) {
	fields := map[string]string{}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	if triggerSummary {
		fields["trigger_summary"] = "true"
	}

	var reply AmbientReply
	err := c.do(ctx, "submit ambient audio", http.MethodPost, "/consultation/voice", &clip, fields, func(resp *http.Response) error {
		reply.SessionID = resp.Header.Get("X-Session-Id")
		if reply.SessionID == "" {
			reply.SessionID = sessionID
		}
		reply.ConsultationID = resp.Header.Get("X-Consultation-Id")
		if reply.ConsultationID == "" {
			reply.ConsultationID = PlaceholderConsultationID
		}
		var err error
		reply.Audio, err = c.readClip(resp)
		return err
	})
	if err != nil {
		return AmbientReply{}, err
	}
	return reply, nil
}

// Summary holds the generated consultation views. Nil fields are not ready.
type Summary struct {
	DoctorView    *string `json:"doctor_view"`
	PatientView   *string `json:"patient_view"`
	RawTranscript *string `json:"raw_transcript"`
}

// FetchSummary returns the current summary of a consultation.
func (c *Client) FetchSummary(ctx context.Context, consultationID string) (Summary, error) {
	if consultationID == "" {
		return Summary{}, ErrNoConsultation
	}
	var s Summary
	err := c.do(ctx, "fetch summary", http.MethodGet, "/consultation/"+url.PathEscape(consultationID)+"/summary", nil, nil, func(resp *http.Response) error {
		return decodeJSON(resp, &s)
	})
	if err != nil {
		return Summary{}, err
	}
	return s, nil
}

// AskQuestion asks a text question about a consultation and returns the answer.
func (c *Client) AskQuestion(ctx context.Context, consultationID, question string) (string, error) {
	if consultationID == "" {
		return "", ErrNoConsultation
	}
	var body struct {
		Answer string `json:"answer"`
	}
	err := c.do(ctx, "ask question", http.MethodPost, "/consultation/"+url.PathEscape(consultationID)+"/qa", nil,
		map[string]string{"question": question}, func(resp *http.Response) error {
			return decodeJSON(resp, &body)
		})
	if err != nil {
		return "", err
	}
	return body.Answer, nil
}

// VoiceAnswer is the result of [Client.AskVoiceQuestion].
type VoiceAnswer struct {
	// Question is the backend's transcript of the spoken question.
	Question string
	Answer   string
	Audio    audio.Clip
}

// AskVoiceQuestion uploads a spoken question and returns its transcript, the
// answer text, and the spoken answer.
func (c *Client) AskVoiceQuestion(ctx context.Context, consultationID string, clip audio.Clip) (VoiceAnswer, error) {
	if consultationID == "" {
		return VoiceAnswer{}, ErrNoConsultation
	}
	var va VoiceAnswer
	err := c.do(ctx, "ask voice question", http.MethodPost, "/consultation/"+url.PathEscape(consultationID)+"/qa/voice", &clip, nil, func(resp *http.Response) error {
		va.Question = decodeHeader(resp.Header.Get("X-Question"))
		va.Answer = decodeHeader(resp.Header.Get("X-Answer"))
		var err error
		va.Audio, err = c.readClip(resp)
		return err
	})
	if err != nil {
		return VoiceAnswer{}, err
	}
	return va, nil
}

// do performs one request. clip and fields, when present, are sent as a
// multipart form. handle is called only for 2xx responses.
func (c *Client) do(ctx context.Context, op, method, path string, clip *audio.Clip, fields map[string]string, handle func(*http.Response) error) error {
	call := func() error {
		req, err := c.newRequest(ctx, method, path, clip, fields)
		if err != nil {
			return fmt.Errorf("consult: %s: %w", op, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("consult: %s: %w", op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
		}
		if err := handle(resp); err != nil {
			return fmt.Errorf("consult: %s: %w", op, err)
		}
		return nil
	}
	if c.guard == nil {
		return call()
	}
	return c.guard.Execute(call)
}

func (c *Client) newRequest(ctx context.Context, method, path string, clip *audio.Clip, fields map[string]string) (*http.Request, error) {
	if clip == nil && fields == nil {
		return http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if clip != nil {
		ctype := clip.ContentType
		if ctype == "" {
			ctype = "audio/wav"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
		h.Set("Content-Type", ctype)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create audio part: %w", err)
		}
		if _, err := part.Write(clip.Data); err != nil {
			return nil, fmt.Errorf("write audio part: %w", err)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (c *Client) readClip(resp *http.Response) (audio.Clip, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAudio+1))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("read audio: %w", err)
	}
	if int64(len(data)) > c.maxAudio {
		return audio.Clip{}, fmt.Errorf("%w: more than %d bytes", ErrAudioTooLarge, c.maxAudio)
	}
	ctype := resp.Header.Get("Content-Type")
	if ctype == "" {
		ctype = "audio/wav"
	}
	return audio.Clip{Data: data, ContentType: ctype}, nil
}

func decodeJSON(resp *http.Response, v any) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": ...} or {"detail": ...} from an error body,
// falling back to the trimmed body text.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error  string `json:"error"`
		Detail any    `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(raw))
}

// decodeHeader percent-decodes a header value. Malformed escapes are kept
// verbatim rather than failing the whole answer.
func decodeHeader(v string) string {
	s, err := url.PathUnescape(v)
	if err != nil {
		slog.Debug("consult: malformed percent-encoding in header", "value", v, "err", err)
		return v
	}
	return s
}

// IsOutage reports whether err indicates the backend itself is failing, as
// opposed to a rejected request or a cancelled call. Use it to classify
// errors for a circuit breaker.
func IsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrAudioTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
