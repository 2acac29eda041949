package submissions

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"youposm/internal/rows"
	"youposm/internal/shared/server/middleware"
	"youposm/internal/shared/server/respond"
	"youposm/internal/shared/storeerr"
	"youposm/internal/shared/telemetry"
	"youposm/internal/shared/util"
)

const (
	defaultRecentLimit = 5
	maxRecentLimit     = 50
	// Room for the text fields and multipart framing on top of the images.
	formOverheadBytes = 1 << 20
	// Default request ceiling, in multiples of the per-image limit. Anything
	// between the image limit and this ceiling reaches the validator.
	requestCeilingFactor = 4
)

//go:embed templates/form.html
var templateFS embed.FS

var formPage = template.Must(template.ParseFS(templateFS, "templates/form.html"))

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
	// MaxRequestBytes caps the whole upload body. Zero derives it from the
	// image limit.
	MaxRequestBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches the JSON API to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/submissions", h.submit)
	rg.GET("/submissions/recent", h.recent)
	rg.GET("/options", h.options)
	rg.GET("/stats", h.stats)
}

// RegisterPages attaches the HTML form.
func (h *Handler) RegisterPages(r gin.IRoutes) {
	r.GET("/", h.form)
}

func (h *Handler) submit(c *gin.Context) {
	limit := h.maxImageBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRequestBytes(limit))

	before, err := readImage(c, "before", limit)
	if err != nil {
		h.formError(c, err)
		return
	}
	after, err := readImage(c, "after", limit)
	if err != nil {
		h.formError(c, err)
		return
	}

	in := FormInput{
		Store:    c.PostForm("store"),
		Employee: c.PostForm("employee"),
		Date:     c.PostForm("date"),
		Before:   before,
		After:    after,

		RequestID: middleware.RequestIDFromContext(c),
	}
	c.Set(middleware.LogStoreKey, util.SanitizeSegment(in.Store))
	c.Set(middleware.LogEmployeeKey, util.SanitizeSegment(in.Employee))

	res, err := h.Svc.Submit(c.Request.Context(), in)
	if err != nil {
		h.submitError(c, err)
		return
	}

	c.Set(middleware.LogOutcomeKey, "success")
	respond.JSON(c, http.StatusCreated, SubmitResponse{
		Record:    toRecordResponse(res.Record),
		BeforeKey: res.BeforeKey,
		AfterKey:  res.AfterKey,
	})
}

func (h *Handler) submitError(c *gin.Context, err error) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		c.Set(middleware.LogOutcomeKey, "validation_error")
		respond.Error(c, http.StatusUnprocessableEntity, "validation_error", "submission is invalid", []FieldError(verrs))
		return
	}

	c.Set(middleware.LogOutcomeKey, "write_error")
	stage := ""
	var werr *WriteError
	if errors.As(err, &werr) {
		stage = werr.Stage
	}
	storeError(c, stage, err)
}

// storeError maps a store failure to 502 for misconfiguration and 503 otherwise.
func storeError(c *gin.Context, stage string, err error) {
	switch {
	case errors.Is(err, storeerr.ErrUnauthorized), errors.Is(err, storeerr.ErrNotFound):
		telemetry.Error("store.misconfigured", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"stage":      stage,
			"error":      err,
		})
		respond.Error(c, http.StatusBadGateway, "store_misconfigured", "storage is not configured correctly; contact an administrator", nil)
	case errors.Is(err, storeerr.ErrTransient),
		errors.Is(err, storeerr.ErrRateLimited),
		errors.Is(err, storeerr.ErrQuotaExceeded),
		errors.Is(err, context.DeadlineExceeded):
		respond.Retryable(c, http.StatusServiceUnavailable, "store_unavailable", "storage is temporarily unavailable; please try again")
	default:
		telemetry.Error("store.failed", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"stage":      stage,
			"error":      err,
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to save submission", nil)
	}
}

func (h *Handler) formError(c *gin.Context, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		c.Set(middleware.LogOutcomeKey, "validation_error")
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds the size limit", nil)
		return
	}
	respond.Error(c, http.StatusBadRequest, "bad_request", "expected a multipart form", nil)
}

// readImage returns nil when field was not sent. At most limit+1 bytes are
// read so the validator can reject oversized files.
func readImage(c *gin.Context, field string, limit int64) (*Image, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return openImage(fh, limit)
}

func openImage(fh *multipart.FileHeader, limit int64) (*Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	name, err := util.SanitizeFileName(fh.Filename)
	if err != nil {
		name = ""
	}
	return &Image{Data: data, ContentType: fh.Header.Get("Content-Type"), FileName: name}, nil
}

func (h *Handler) options(c *gin.Context) {
	opts, err := h.Svc.DropdownOptions(c.Request.Context())
	if err != nil {
		storeError(c, "options", err)
		return
	}
	respond.OK(c, gin.H{"stores": opts.Stores, "employees": opts.Employees})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.Svc.Stats(c.Request.Context())
	if err != nil {
		storeError(c, "stats", err)
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) recent(c *gin.Context) {
	limit := defaultRecentLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	recs, err := h.Svc.Recent(c.Request.Context(), limit)
	if err != nil {
		storeError(c, "recent", err)
		return
	}
	resp := make([]RecordResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toRecordResponse(rec))
	}
	respond.OK(c, resp)
}

type formView struct {
	Today   string
	Options Options
	Stats   Stats
	Recent  []rows.Record
}

// form renders the upload page. Store failures degrade to empty dropdowns.
func (h *Handler) form(c *gin.Context) {
	ctx := c.Request.Context()
	view := formView{Today: h.today()}

	if opts, err := h.Svc.DropdownOptions(ctx); err != nil {
		telemetry.Warn("form.options_failed", map[string]any{"error": err})
	} else {
		view.Options = opts
		view.Stats = Stats{TotalRecords: opts.TotalRecords, Stores: len(opts.Stores), Employees: len(opts.Employees)}
	}
	if recs, err := h.Svc.Recent(ctx, defaultRecentLimit); err != nil {
		telemetry.Warn("form.recent_failed", map[string]any{"error": err})
	} else {
		view.Recent = recs
	}

	var buf bytes.Buffer
	if err := formPage.Execute(&buf, view); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to render form", nil)
		return
	}
	respond.HTML(c, http.StatusOK, buf.Bytes())
}

func (h *Handler) maxImageBytes() int64 {
	if h.Svc.Validator.MaxImageBytes > 0 {
		return h.Svc.Validator.MaxImageBytes
	}
	return DefaultMaxImageBytes
}

func (h *Handler) maxRequestBytes(imageLimit int64) int64 {
	floor := 2*(imageLimit+1) + formOverheadBytes
	if h.MaxRequestBytes >= floor {
		return h.MaxRequestBytes
	}
	if h.MaxRequestBytes > 0 {
		return floor
	}
	return requestCeilingFactor*imageLimit + formOverheadBytes
}

func (h *Handler) today() string {
	loc := h.Svc.Validator.Location
	if loc == nil {
		loc = time.UTC
	}
	return h.Svc.now().In(loc).Format(rows.DateLayout)
}
