package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/importer"
	"github.com/ignite/smart-import/internal/pkg/httputil"
	"github.com/ignite/smart-import/internal/pkg/logger"
	"github.com/ignite/smart-import/internal/source"
)

// maxFilesPerImport bounds one multipart upload.
const maxFilesPerImport = 20

// ObjectLoader fetches an export that was uploaded to object storage.
type ObjectLoader interface {
	Load(ctx context.Context, key string, platform datanorm.Platform) (datanorm.RawFile, error)
}

// ImportHandlers serves the import session endpoints.
type ImportHandlers struct {
	svc      *importer.Service
	objects  ObjectLoader
	maxFile  int64
	validate *validator.Validate
}

// NewImportHandlers creates the handlers. objects may be nil, which
// disables the S3 endpoint.
func NewImportHandlers(svc *importer.Service, objects ObjectLoader, maxFileBytes int64) *ImportHandlers {
	return &ImportHandlers{svc: svc, objects: objects, maxFile: maxFileBytes, validate: validator.New()}
}

// maxBatchBytes bounds one multipart body: every file at the limit plus
// room for the form fields.
func (h *ImportHandlers) maxBatchBytes() int64 {
	return h.maxFile*maxFilesPerImport + 1<<20
}

// =============================================================================
// REQUEST DTOS
// =============================================================================

// CorrectionRequest sets one raw cell.
type CorrectionRequest struct {
	Row    int    `json:"row" validate:"required,gt=0"`
	Column string `json:"column" validate:"required"`
	Value  string `json:"value"`
}

// KindRequest confirms or overrides a file's content kind.
type KindRequest struct {
	Kind string `json:"kind" validate:"required"`
}

// S3ImportRequest starts an import from objects already in the bucket.
// Platforms holds one value for every key or one per key.
type S3ImportRequest struct {
	ClientID  string   `json:"client_id" validate:"required"`
	Platforms []string `json:"platforms" validate:"required,min=1,dive,required"`
	Keys      []string `json:"s3_keys" validate:"required,min=1,max=20,dive,required"`
}

// ValidateResponse is returned by the stateless validation endpoint.
type ValidateResponse struct {
	Files    []*datanorm.FileValidationResult `json:"files"`
	Blocking bool                             `json:"blocking"`
}

// BlockingIssue names one error that prevents proceeding.
type BlockingIssue struct {
	FileIndex int    `json:"file_index"`
	File      string `json:"file"`
	IssueID   string `json:"issue_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// =============================================================================
// UPLOADS
// =============================================================================

// readUpload parses the multipart form:
//   - client_id: required
//   - platform: once for every file, or once per file in upload order
//   - files: one or more CSV/XLSX exports
func (h *ImportHandlers) readUpload(w http.ResponseWriter, r *http.Request) (string, []datanorm.RawFile, bool) {
	if h.maxFile > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBatchBytes())
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return "", nil, false
		}
		httputil.BadRequest(w, "invalid multipart form: "+err.Error())
		return "", nil, false
	}

	clientID := r.FormValue("client_id")
	if clientID == "" {
		httputil.BadRequest(w, "client_id is required")
		return "", nil, false
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		httputil.BadRequest(w, "at least one file is required")
		return "", nil, false
	}
	if len(headers) > maxFilesPerImport {
		httputil.BadRequest(w, fmt.Sprintf("at most %d files per import", maxFilesPerImport))
		return "", nil, false
	}
	platforms, err := resolvePlatforms(r.MultipartForm.Value["platform"], len(headers))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return "", nil, false
	}

	files := make([]datanorm.RawFile, 0, len(headers))
	for i, fh := range headers {
		data, err := h.readPart(fh)
		if errors.Is(err, source.ErrTooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("%s: %v", fh.Filename, err))
			return "", nil, false
		}
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("read %s: %v", fh.Filename, err))
			return "", nil, false
		}
		files = append(files, datanorm.RawFile{
			Name:     fh.Filename,
			Platform: platforms[i],
			Data:     data,
			Format:   source.FormatFromName(fh.Filename),
		})
	}
	return clientID, files, true
}

func (h *ImportHandlers) readPart(fh *multipart.FileHeader) ([]byte, error) {
	if h.maxFile > 0 && fh.Size > h.maxFile {
		return nil, fmt.Errorf("%w (%d bytes)", source.ErrTooLarge, h.maxFile)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return source.ReadLimited(f, h.maxFile)
}

// resolvePlatforms expands the platform form values to one per file.
func resolvePlatforms(values []string, n int) ([]datanorm.Platform, error) {
	switch len(values) {
	case 0:
		return nil, errors.New("platform is required")
	case 1, n:
	default:
		return nil, fmt.Errorf("got %d platform values for %d files", len(values), n)
	}
	out := make([]datanorm.Platform, n)
	for i := range out {
		v := values[0]
		if len(values) == n {
			v = values[i]
		}
		p, err := datanorm.ParsePlatform(v)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// HandleValidate runs validation without creating a session.
// POST /api/imports/validate
func (h *ImportHandlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	clientID, files, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	results, err := h.svc.Validate(r.Context(), clientID, files)
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	resp := ValidateResponse{Files: results}
	for _, res := range results {
		if res.HasBlockingErrors() {
			resp.Blocking = true
		}
	}
	httputil.OK(w, resp)
}

// HandleStart validates an upload and keeps it as a session awaiting proceed.
// POST /api/imports
func (h *ImportHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	clientID, files, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	h.start(w, r, clientID, files)
}

// HandleStartFromS3 starts an import from bucket objects.
// POST /api/imports/s3
func (h *ImportHandlers) HandleStartFromS3(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "s3 imports are not configured")
		return
	}
	var req S3ImportRequest
	if !httputil.DecodeValid(w, r, h.validate, &req) {
		return
	}
	platforms, err := resolvePlatforms(req.Platforms, len(req.Keys))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	files := make([]datanorm.RawFile, 0, len(req.Keys))
	for i, key := range req.Keys {
		f, err := h.objects.Load(r.Context(), key, platforms[i])
		if errors.Is(err, source.ErrTooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		if err != nil {
			logger.Warn("s3 import: load object", "key", key, "error", err)
			httputil.ErrorWithCode(w, http.StatusBadGateway, "object_unavailable", fmt.Sprintf("could not load %s", key), nil)
			return
		}
		files = append(files, f)
	}
	h.start(w, r, req.ClientID, files)
}

func (h *ImportHandlers) start(w http.ResponseWriter, r *http.Request, clientID string, files []datanorm.RawFile) {
	im, err := h.svc.Start(r.Context(), clientID, files)
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	httputil.Created(w, im)
}

// HandleGet returns a session with its results, outcome and advisory.
// GET /api/imports/{id}
func (h *ImportHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	im, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	httputil.OK(w, im)
}

func fileIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "file"))
	if err != nil || idx < 0 {
		httputil.BadRequest(w, "file must be a non-negative upload index")
		return 0, false
	}
	return idx, true
}

// HandleApplyFix applies the fix attached to an issue.
// POST /api/imports/{id}/files/{file}/fixes/{issueId}
func (h *ImportHandlers) HandleApplyFix(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, ok := fileIndex(w, r)
	if !ok {
		return
	}
	im, err := h.svc.ApplyFix(r.Context(), id, idx, chi.URLParam(r, "issueId"))
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	httputil.OK(w, im)
}

// HandleCorrection sets one raw cell to a user-supplied value.
// POST /api/imports/{id}/files/{file}/corrections
func (h *ImportHandlers) HandleCorrection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, ok := fileIndex(w, r)
	if !ok {
		return
	}
	var req CorrectionRequest
	if !httputil.DecodeValid(w, r, h.validate, &req) {
		return
	}
	im, err := h.svc.ApplyCorrection(r.Context(), id, idx, req.Row, req.Column, req.Value)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	httputil.OK(w, im)
}

// HandleKind confirms or overrides the content kind of a file.
// POST /api/imports/{id}/files/{file}/kind
func (h *ImportHandlers) HandleKind(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, ok := fileIndex(w, r)
	if !ok {
		return
	}
	var req KindRequest
	if !httputil.DecodeValid(w, r, h.validate, &req) {
		return
	}
	kind, err := datanorm.ParseKind(req.Kind)
	if err != nil {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "unknown_kind", err.Error(), datanorm.Kinds())
		return
	}
	im, err := h.svc.ConfirmKind(r.Context(), id, idx, kind)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	httputil.OK(w, im)
}

// HandleProceed commits the import.
// POST /api/imports/{id}/proceed
func (h *ImportHandlers) HandleProceed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := h.svc.Proceed(r.Context(), id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	httputil.OK(w, out)
}

// HandleCancel abandons the import.
// POST /api/imports/{id}/cancel
func (h *ImportHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	im, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	httputil.OK(w, im)
}

// KindInfo describes one supported content kind.
type KindInfo struct {
	Kind     datanorm.ContentKind `json:"kind"`
	Table    string               `json:"table"`
	Daily    bool                 `json:"daily"`
	Fields   []string             `json:"fields"`
	Required []string             `json:"required,omitempty"`
}

// HandleKinds lists the content kinds and their canonical fields.
// GET /api/kinds
func (h *ImportHandlers) HandleKinds(w http.ResponseWriter, r *http.Request) {
	kinds := datanorm.Kinds()
	out := make([]KindInfo, 0, len(kinds))
	for _, k := range kinds {
		s, ok := datanorm.SchemaFor(k)
		if !ok {
			continue
		}
		info := KindInfo{Kind: k, Table: s.Table, Daily: s.Daily, Required: s.Required}
		for _, f := range s.Fields {
			info.Fields = append(info.Fields, f.Name)
		}
		out = append(out, info)
	}
	httputil.OK(w, out)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *ImportHandlers) writeError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, importer.ErrNoFiles):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, importer.ErrNotFound):
		httputil.ErrorWithCode(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, importer.ErrFileNotFound):
		httputil.ErrorWithCode(w, http.StatusNotFound, "file_not_found", err.Error(), nil)
	case errors.Is(err, datanorm.ErrIssueNotFound):
		httputil.ErrorWithCode(w, http.StatusNotFound, "issue_not_found", err.Error(), nil)
	case errors.Is(err, datanorm.ErrRowNotFound):
		httputil.ErrorWithCode(w, http.StatusNotFound, "row_not_found", err.Error(), nil)
	case errors.Is(err, datanorm.ErrNoFix):
		httputil.ErrorWithCode(w, http.StatusUnprocessableEntity, "no_fix", err.Error(), nil)
	case errors.Is(err, datanorm.ErrUnknownKind):
		httputil.ErrorWithCode(w, http.StatusBadRequest, "unknown_kind", err.Error(), datanorm.Kinds())
	case errors.Is(err, importer.ErrInvalidState):
		httputil.Conflict(w, "invalid_state", err.Error())
	case errors.Is(err, importer.ErrLocked):
		httputil.Conflict(w, "locked", err.Error())
	case errors.Is(err, importer.ErrUnresolvedErrors):
		httputil.ErrorWithCode(w, http.StatusConflict, "unresolved_errors", err.Error(), h.blockingIssues(r.Context(), id))
	case errors.Is(err, context.Canceled):
		logger.Warn("request cancelled", "import_id", id, "path", r.URL.Path)
	default:
		httputil.InternalError(w, err)
	}
}

func (h *ImportHandlers) blockingIssues(ctx context.Context, id string) []BlockingIssue {
	if id == "" {
		return nil
	}
	im, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil
	}
	var out []BlockingIssue
	for i, f := range im.Files {
		if !f.HasBlockingErrors() {
			continue
		}
		for _, is := range f.Issues {
			if is.Severity == datanorm.SeverityError {
				out = append(out, BlockingIssue{FileIndex: i, File: f.SourceFileName, IssueID: is.ID, Code: is.Code, Message: is.Message})
			}
		}
	}
	return out
}
