package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/edvin/dbbackup/internal/model"
)

// AgentURLHeader tells the manager where the agent's local API listens.
const AgentURLHeader = "Agent-Url"

// breakerThreshold is the number of consecutive failed calls that opens
// the circuit to the manager.
const breakerThreshold = 5

const (
	// callTimeout bounds the small JSON and failure calls.
	callTimeout = 30 * time.Second
	// uploadIdleTimeout aborts an upload when no bytes moved for that long.
	uploadIdleTimeout = 2 * time.Minute
	// uploadResponseTimeout covers the manager moving the artifact into
	// storage after the body has been sent.
	uploadResponseTimeout = 30 * time.Minute
)

var (
	// ErrUnknownAgent is returned when the manager rejects the agent token.
	ErrUnknownAgent = errors.New("manager does not know this agent token")
	// ErrManagerUnreachable wraps transport failures talking to the manager.
	ErrManagerUnreachable = errors.New("manager unreachable")
	// ErrUploadStalled is the cause of an upload aborted for lack of progress.
	ErrUploadStalled = errors.New("artifact upload stalled")
)

// Job is one queue entry handed out by the manager.
type Job struct {
	Name          string `json:"name"`
	Backup        bool   `json:"type"`
	DatabaseNames string `json:"databaseNames"`
}

func (j Job) Databases() []string {
	return model.SplitDatabaseNames(j.DatabaseNames)
}

// Artifact is a finished dump on local disk.
type Artifact struct {
	Path          string
	LastWriteTime time.Time
}

// StatusError is a non-success answer of the manager.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Op, e.Code, e.Body)
}

// ManagerClient talks to the manager's agent endpoints. Artifact uploads
// use their own client without an overall deadline; they are bounded by
// the caller's ctx, a progress deadline and the response header timeout.
type ManagerClient struct {
	baseURL      string
	token        string
	agentURL     string
	httpClient   *http.Client
	uploadClient *http.Client
	uploadIdle   time.Duration
	breaker      *gobreaker.CircuitBreaker[any]
	logger       zerolog.Logger
}

func NewManagerClient(baseURL, token, agentURL string, logger zerolog.Logger) *ManagerClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = uploadResponseTimeout

	c := &ManagerClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		agentURL: agentURL,
		httpClient: &http.Client{
			Timeout: callTimeout,
		},
		uploadClient: &http.Client{Transport: transport},
		uploadIdle:   uploadIdleTimeout,
		logger:       logger.With().Str("component", "manager-client").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "manager",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		// A 4xx means the manager is up and answering.
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Code < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, ErrUnknownAgent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c
}

// NotifyPresence reports liveness and the visible databases and returns
// the queued jobs.
func (c *ManagerClient) NotifyPresence(ctx context.Context, databases []string) ([]Job, error) {
	if databases == nil {
		databases = []string{}
	}
	body, err := json.Marshal(map[string]any{"token": c.token, "databases": databases})
	if err != nil {
		return nil, fmt.Errorf("marshal presence: %w", err)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/notify-presence", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.do(c.httpClient, req)
		if err != nil {
			return nil, fmt.Errorf("notify presence: %w: %w", ErrManagerUnreachable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrUnknownAgent
		}
		if resp.StatusCode != http.StatusOK {
			return nil, statusError("presence", resp)
		}
		var jobs []Job
		if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
			return nil, fmt.Errorf("decode jobs: %w", err)
		}
		return jobs, nil
	})
	if err != nil {
		return nil, err
	}
	jobs, _ := out.([]Job)
	return jobs, nil
}

// SubmitArtifact uploads a finished dump for jobName. The file is streamed.
func (c *ManagerClient) SubmitArtifact(ctx context.Context, jobName string, art Artifact) error {
	info, err := os.Stat(art.Path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	lastWrite := art.LastWriteTime
	if lastWrite.IsZero() {
		lastWrite = info.ModTime()
	}
	fileName := filepath.Base(art.Path)
	fields := [][2]string{
		{"token", c.token},
		{"name", jobName},
		{"fileName", fileName},
		{"fileSize", strconv.FormatInt(info.Size(), 10)},
		{"fileExtension", filepath.Ext(fileName)},
		{"fileLastWriteTime", lastWrite.UTC().Format(time.RFC3339Nano)},
	}
	return c.postResult(ctx, fields, art.Path)
}

// SubmitFailure reports that jobName could not be carried out.
func (c *ManagerClient) SubmitFailure(ctx context.Context, jobName string, cause error) error {
	fields := [][2]string{
		{"token", c.token},
		{"name", jobName},
		{"exceptionMessage", cause.Error()},
		{"exceptionStackTrace", fmt.Sprintf("%+v", cause)},
	}
	return c.postResult(ctx, fields, "")
}

func (c *ManagerClient) postResult(ctx context.Context, fields [][2]string, filePath string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		client := c.httpClient
		ctx := ctx
		pr, pw := io.Pipe()
		defer pr.Close()
		var body io.ReadCloser = pr
		if filePath != "" {
			client = c.uploadClient
			var cancel context.CancelCauseFunc
			ctx, cancel = context.WithCancelCause(ctx)
			defer cancel(nil)
			progress := newProgressReader(pr, c.uploadIdle, func() { cancel(ErrUploadStalled) })
			defer progress.Close()
			body = progress
		}

		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeResult(mw, fields, filePath))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/backup-result", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := c.do(client, req)
		if err != nil {
			pr.CloseWithError(err)
			if cause := context.Cause(ctx); errors.Is(cause, ErrUploadStalled) {
				err = cause
			}
			return nil, fmt.Errorf("submit result: %w: %w", ErrManagerUnreachable, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			io.Copy(io.Discard, resp.Body)
			return nil, nil
		case http.StatusNotFound:
			return nil, ErrUnknownAgent
		default:
			return nil, statusError("backup result", resp)
		}
	})
	return err
}

// progressReader fires onStall when no bytes were read for idle. The
// deadline is dropped once the body is fully read.
type progressReader struct {
	r     io.ReadCloser
	idle  time.Duration
	timer *time.Timer
}

func newProgressReader(r io.ReadCloser, idle time.Duration, onStall func()) *progressReader {
	return &progressReader{r: r, idle: idle, timer: time.AfterFunc(idle, onStall)}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil {
		p.timer.Stop()
	} else if n > 0 {
		p.timer.Reset(p.idle)
	}
	return n, err
}

func (p *progressReader) Close() error {
	p.timer.Stop()
	return p.r.Close()
}

// Retryable reports whether a submit failed before the manager could take
// a decision, so the artifact is worth keeping for another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrUnknownAgent) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, ErrManagerUnreachable) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

func writeResult(mw *multipart.Writer, fields [][2]string, filePath string) error {
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	if filePath != "" {
		src, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("open artifact: %w", err)
		}
		defer src.Close()
		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, src); err != nil {
			return fmt.Errorf("upload artifact: %w", err)
		}
	}
	return mw.Close()
}

func (c *ManagerClient) do(client *http.Client, req *http.Request) (*http.Response, error) {
	if c.agentURL != "" {
		req.Header.Set(AgentURLHeader, c.agentURL)
	}
	return client.Do(req)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
