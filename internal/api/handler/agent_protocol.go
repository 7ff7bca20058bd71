package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/dbbackup/internal/api/request"
	"github.com/edvin/dbbackup/internal/api/response"
	"github.com/edvin/dbbackup/internal/core"
	"github.com/edvin/dbbackup/internal/metrics"
	"github.com/edvin/dbbackup/internal/model"
)

// AgentURLHeader carries the callback address of a polling agent.
const AgentURLHeader = "Agent-Url"

const maxFieldSize = 1 << 20

// AgentProtocolHandler serves the endpoints polled by remote agents. They
// authenticate with the agent token instead of the admin key.
type AgentProtocolHandler struct {
	svc     AgentProtocol
	tempDir string
	logger  zerolog.Logger
}

func NewAgentProtocol(svc AgentProtocol, tempDir string, logger zerolog.Logger) *AgentProtocolHandler {
	return &AgentProtocolHandler{
		svc:     svc,
		tempDir: tempDir,
		logger:  logger.With().Str("component", "agent-protocol").Logger(),
	}
}

func (h *AgentProtocolHandler) NotifyPresence(w http.ResponseWriter, r *http.Request) {
	var req request.NotifyPresence
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.svc.NotifyPresence(r.Context(), req.Token, r.Header.Get(AgentURLHeader), req.Databases)
	if errors.Is(err, model.ErrNotFound) {
		metrics.AgentPings.WithLabelValues("unknown").Inc()
		response.WriteError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		metrics.AgentPings.WithLabelValues("error").Inc()
		writeServiceError(w, err)
		return
	}
	metrics.AgentPings.WithLabelValues("ok").Inc()
	response.WriteJSON(w, http.StatusOK, jobs)
}

// backupResult is the parsed multipart body of a result submission.
type backupResult struct {
	fields   map[string]string
	file     string
	fileName string
	size     int64
}

func (b *backupResult) cleanup() {
	if b.file != "" {
		os.Remove(b.file)
	}
}

func (h *AgentProtocolHandler) BackupResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.readResult(r)
	defer res.cleanup()
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, name := res.fields["token"], res.fields["name"]
	exception := res.fields["exceptionMessage"]
	hasFile := res.file != ""
	switch {
	case token == "" || name == "":
		response.WriteError(w, http.StatusBadRequest, "token and name are required")
		return
	case hasFile && exception != "":
		response.WriteError(w, http.StatusBadRequest, "either file or exceptionMessage must be sent, not both")
		return
	case !hasFile && exception == "":
		response.WriteError(w, http.StatusBadRequest, "either file or exceptionMessage is required")
		return
	}

	if !hasFile {
		h.reportFailure(w, r, res)
		return
	}

	art := core.AgentArtifact{
		Name:          name,
		FileName:      artifactFileName(res),
		LocalPath:     res.file,
		Size:          res.size,
		LastWriteTime: parseWriteTime(res.fields["fileLastWriteTime"]),
	}
	backup, err := h.svc.SubmitArtifact(r.Context(), token, art)
	if err != nil {
		h.writeResultError(w, err)
		return
	}
	res.file = ""
	metrics.AgentResults.WithLabelValues("artifact").Inc()
	h.logger.Info().Str("job", name).Str("path", backup.Path).Int64("size", backup.Size).Msg("agent artifact stored")
	response.WriteJSON(w, http.StatusCreated, backup)
}

func (h *AgentProtocolHandler) reportFailure(w http.ResponseWriter, r *http.Request, res *backupResult) {
	name := res.fields["name"]
	agent, err := h.svc.ReportFailure(r.Context(), res.fields["token"], name)
	if err != nil {
		h.writeResultError(w, err)
		return
	}
	metrics.AgentResults.WithLabelValues("failure").Inc()
	metrics.AgentFailures.Inc()
	h.logger.Error().
		Str("agent", agent.Name).
		Str("job", name).
		Str("stack_trace", res.fields["exceptionStackTrace"]).
		Msg("agent backup failed: " + res.fields["exceptionMessage"])
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *AgentProtocolHandler) writeResultError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		response.WriteError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeServiceError(w, err)
}

// readResult streams the multipart body. The file part is spooled to a
// temp file; text parts are kept in memory.
func (h *AgentProtocolHandler) readResult(r *http.Request) (*backupResult, error) {
	res := &backupResult{fields: map[string]string{}}
	mr, err := r.MultipartReader()
	if err != nil {
		return res, fmt.Errorf("invalid multipart body: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("read multipart body: %w", err)
		}
		if part.FormName() == "file" {
			if res.file != "" {
				part.Close()
				return res, errors.New("only one file may be sent")
			}
			if err := h.spool(res, part); err != nil {
				part.Close()
				return res, err
			}
			part.Close()
			continue
		}
		value, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
		part.Close()
		if err != nil {
			return res, fmt.Errorf("read field %s: %w", part.FormName(), err)
		}
		res.fields[part.FormName()] = string(value)
	}
}

func (h *AgentProtocolHandler) spool(res *backupResult, part *multipart.Part) error {
	if err := os.MkdirAll(h.tempDir, 0o750); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(h.tempDir, "upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	res.file = f.Name()
	res.fileName = part.FileName()

	n, err := io.Copy(f, part)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("receive file: %w", err)
	}
	res.size = n
	return nil
}

// artifactFileName prefers the fileName field over the part's file name
// and appends fileExtension when the name has none.
func artifactFileName(res *backupResult) string {
	name := res.fields["fileName"]
	if name == "" {
		name = res.fileName
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext := strings.TrimPrefix(res.fields["fileExtension"], "."); ext != "" && path.Ext(name) == "" {
		name += "." + ext
	}
	return name
}

var writeTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.9999999", "2006-01-02 15:04:05"}

func parseWriteTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range writeTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
