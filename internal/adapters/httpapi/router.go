// Package httpapi exposes the directory service over HTTP with gin.
package httpapi

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"collabdir/internal/auth"
	"collabdir/internal/core"
)

// Handler serves the directory routes.
type Handler struct {
	svc      *core.Service
	verifier auth.Verifier
	logger   core.Logger
	validate *validator.Validate

	corsOrigins map[string]bool
	submit      *rate.Limiter
	metrics     http.Handler
	tracing     trace.TracerProvider
	serviceName string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCORSOrigins restricts cross-origin requests to origins. With no
// origins every origin is allowed.
func WithCORSOrigins(origins ...string) Option {
	return func(h *Handler) {
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				h.corsOrigins[o] = true
			}
		}
	}
}

// WithSubmitLimit throttles unauthenticated data-request submissions to
// perSecond with the given burst. Zero or less disables the limit.
func WithSubmitLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		if perSecond <= 0 {
			h.submit = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.submit = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMetricsHandler serves metrics on /metrics.
func WithMetricsHandler(metrics http.Handler) Option {
	return func(h *Handler) { h.metrics = metrics }
}

// WithTracing starts a server span per request using tp.
func WithTracing(serviceName string, tp trace.TracerProvider) Option {
	return func(h *Handler) {
		h.serviceName = serviceName
		h.tracing = tp
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewHandler returns a handler over svc authenticating with verifier.
func NewHandler(svc *core.Service, verifier auth.Verifier, opts ...Option) *Handler {
	h := &Handler{
		svc:         svc,
		verifier:    verifier,
		logger:      nopLogger{},
		validate:    newValidator(),
		corsOrigins: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Router builds the gin engine serving every route.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestID(), h.accessLog())
	if h.tracing != nil {
		r.Use(otelgin.Middleware(h.serviceName, otelgin.WithTracerProvider(h.tracing)))
	}
	r.Use(h.cors())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
	r.POST("/submit-request", h.submitDataRequest)

	authed := r.Group("", h.authenticate())
	authed.GET("/auth/check", h.checkAuthorization)
	authed.GET("/get-requests", h.listDataRequests)
	authed.GET("/get-request/:filename", h.getDataRequest)
	authed.GET("/data-request/admins", h.listAdmins(core.DataRequestAdmins))
	authed.POST("/data-request/admins", h.addAdmin(core.DataRequestAdmins))
	authed.DELETE("/data-request/admins", h.deleteAdmin(core.DataRequestAdmins))

	collab := authed.Group("/collaborators")
	collab.GET("/get_user_details", h.getUserDetails)
	collab.POST("/update_user_details", h.updateUserDetails)
	collab.DELETE("/delete_collaborator", h.deleteCollaborator)
	collab.POST("/add_collaborator", h.addCollaborator)
	collab.GET("/get_all_collaborators", h.listCollaborators)
	collab.GET("/get_user_by_index", h.getUserByIndex)
	collab.GET("/get_current_user_role", h.currentUserRole)
	collab.POST("/send_invite_email", h.sendInvite)
	collab.POST("/upload_profile_picture", h.uploadProfilePicture)
	collab.DELETE("/delete-profile-picture", h.deleteProfilePicture)
	collab.GET("/check_collaborator_by_email", h.checkCollaboratorByEmail)
	collab.GET("/get_admins", h.listAdmins(core.DirectoryAdmins))
	collab.POST("/add_admin", h.addAdmin(core.DirectoryAdmins))
	collab.DELETE("/delete_admin", h.deleteAdmin(core.DirectoryAdmins))
	collab.GET("/check_admin_status", h.checkAdminStatus)
	collab.GET("/pis-by-cohort", h.pisByCohort)
	collab.GET("/download-csv", h.downloadCSV)
	return r
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch core.Classify(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "request_id", c.GetString(requestIDKey), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"message": core.PublicMessage(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": msg})
}
