package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"collabdir/internal/adapters/httpapi"
	"collabdir/internal/auth"
	"collabdir/internal/blob"
	"collabdir/internal/config"
	"collabdir/internal/core"
	"collabdir/internal/mail"
	"collabdir/internal/observability"
	"collabdir/internal/persistence/csvtable"
)

const expvarMetricsName = "collabdir_operations"

// app holds every long-lived dependency of one process.
type app struct {
	cfg    config.Config
	logger *observability.ZapLogger

	blobs      blob.Store
	adminBlobs blob.Store
	store      *csvtable.Store
	svc        *core.Service

	dispatcher *mail.Dispatcher
	metrics    http.Handler
	tracing    *sdktrace.TracerProvider
}

// newApp opens storage and assembles the service described by cfg. Trace
// output for the json and otel drivers goes to traceOut.
func newApp(ctx context.Context, cfg config.Config, traceOut io.Writer) (_ *app, err error) {
	logger, err := observability.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.blobs, err = blob.Open(ctx, blobOptions(cfg.Storage, cfg.Storage.Bucket)); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	var storeOpts []csvtable.Option
	if separateAdminBucket(cfg.Storage) {
		if a.adminBlobs, err = blob.Open(ctx, blobOptions(cfg.Storage, cfg.Storage.AdminsBucketName())); err != nil {
			return nil, fmt.Errorf("open admin storage: %w", err)
		}
		storeOpts = append(storeOpts, csvtable.WithAdminBlobs(a.adminBlobs))
	}
	a.store = csvtable.New(a.blobs, csvtable.Keys{
		Collaborators:     cfg.Storage.CollaboratorsKey,
		DirectoryAdmins:   cfg.Storage.AdminsKey,
		DataRequestAdmins: cfg.Storage.DataRequestAdminsKey,
	}, storeOpts...)

	opts := []core.ServiceOption{
		core.WithLogger(logger.With("component", "directory")),
		core.WithAuditRecorder(core.LogAuditRecorder{Logger: logger.With("component", "audit")}),
		core.WithContactEmail(cfg.Directory.ContactEmail),
		core.WithInactiveNotices(cfg.Directory.InactiveNotices),
		core.WithNotifyRecipients(cfg.Mail.NotifyRecipients...),
		core.WithObjectPrefixes(cfg.Storage.PicturePrefix, cfg.Storage.RequestPrefix),
	}
	if cfg.Directory.RosterBaseline == "snapshot" {
		opts = append(opts, core.WithRosterBaseline(core.BaselineSnapshot))
	}

	metricOpt, err := a.setupMetrics()
	if err != nil {
		return nil, err
	}
	if metricOpt != nil {
		opts = append(opts, metricOpt)
	}
	tracerOpt, err := a.setupTracing(traceOut)
	if err != nil {
		return nil, err
	}
	if tracerOpt != nil {
		opts = append(opts, tracerOpt)
	}

	mailer, err := newMailer(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}
	if mailer != nil {
		a.dispatcher = mail.NewDispatcher(mailer,
			mail.WithQueueSize(cfg.Mail.QueueSize),
			mail.WithRate(cfg.Mail.Rate),
			mail.WithLogger(logger.With("component", "mail")),
		)
		a.dispatcher.Start()
		opts = append(opts, core.WithMailer(mailer), core.WithNotifier(a.dispatcher))
	}

	a.svc = core.NewService(a.store, a.store, opts...)
	return a, nil
}

func separateAdminBucket(s config.StorageConfig) bool {
	switch s.Driver {
	case "s3", "gcs":
		return s.AdminsBucketName() != s.Bucket
	default:
		return false
	}
}

func blobOptions(s config.StorageConfig, bucket string) blob.Options {
	return blob.Options{
		Driver:        blob.Driver(s.Driver),
		PublicBaseURL: s.PublicBaseURL,
		FSRoot:        s.FSRoot,
		S3: blob.S3Options{
			Bucket:          bucket,
			Region:          s.S3.Region,
			Endpoint:        s.S3.Endpoint,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
			PathStyle:       s.S3.PathStyle,
		},
		GCS: blob.GCSOptions{
			Bucket:          bucket,
			CredentialsFile: s.GCS.CredentialsFile,
			Endpoint:        s.GCS.Endpoint,
		},
		BadgerDir:   s.Badger,
		SQLitePath:  s.SQLite,
		PostgresDSN: s.Postgres,
	}
}

func (a *app) setupMetrics() (core.ServiceOption, error) {
	switch a.cfg.Metrics.Driver {
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := observability.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		return core.WithMetricsRecorder(rec), nil
	case "expvar":
		rec := core.NewExpvarMetricsRecorder(expvarMetricsName)
		a.metrics = expvar.Handler()
		return core.WithMetricsRecorder(rec), nil
	default:
		return nil, nil
	}
}

func (a *app) setupTracing(out io.Writer) (core.ServiceOption, error) {
	switch a.cfg.Tracing.Driver {
	case "otel":
		tp, err := observability.NewStdoutTracerProvider(out, a.cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		a.tracing = tp
		return core.WithTracer(observability.NewOTelTracer(tp, a.cfg.Tracing.ServiceName)), nil
	case "json":
		return core.WithTracer(core.NewJSONTracer(out, 256)), nil
	default:
		return nil, nil
	}
}

func newMailer(cfg config.MailConfig, logger core.Logger) (core.Mailer, error) {
	switch cfg.Driver {
	case "smtp":
		sender, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		})
		if err != nil {
			return nil, fmt.Errorf("mail: %w", err)
		}
		return sender, nil
	case "log":
		return mail.LogSender{Logger: logger}, nil
	default:
		return nil, nil
	}
}

func newVerifier(cfg config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Driver {
	case "static":
		return auth.NewStaticVerifier(cfg.StaticTokens), nil
	default:
		var keys auth.KeySource
		if url := strings.TrimSpace(cfg.KeysURL); url != "" {
			keys = &auth.HTTPKeys{URL: url}
		}
		return auth.NewFirebaseVerifier(cfg.ProjectID, keys)
	}
}

// handler builds the HTTP handler for the serve command.
func (a *app) handler() (*httpapi.Handler, error) {
	verifier, err := newVerifier(a.cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	opts := []httpapi.Option{
		httpapi.WithLogger(a.logger.With("component", "http")),
		httpapi.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
		httpapi.WithSubmitLimit(a.cfg.Server.SubmitRate, a.cfg.Server.SubmitBurst),
	}
	if a.metrics != nil {
		opts = append(opts, httpapi.WithMetricsHandler(a.metrics))
	}
	if a.tracing != nil {
		opts = append(opts, httpapi.WithTracing(a.cfg.Tracing.ServiceName, a.tracing))
	}
	return httpapi.NewHandler(a.svc, verifier, opts...), nil
}

// Close stops the mail dispatcher, flushes traces and releases storage.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		if err := a.dispatcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop mail: %w", err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	for _, s := range []blob.Store{a.adminBlobs, a.blobs} {
		if s == nil {
			continue
		}
		if err := blob.Close(s); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
