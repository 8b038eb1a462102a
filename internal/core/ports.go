package core

import (
	"context"
	"time"
)

// AdminList names one of the independent admin tables.
type AdminList string

// Admin tables.
const (
	DirectoryAdmins   AdminList = "directory"
	DataRequestAdmins AdminList = "data_request"
)

// TableStore loads and saves whole tables. Every save overwrites the stored
// object in one call; concurrent writers race and the last save wins.
type TableStore interface {
	LoadCollaborators(ctx context.Context) (*Table, error)
	SaveCollaborators(ctx context.Context, t *Table) error
	RawCollaborators(ctx context.Context) ([]byte, error)
	LoadAdmins(ctx context.Context, list AdminList) ([]string, error)
	SaveAdmins(ctx context.Context, list AdminList, emails []string) error
}

// ObjectInfo describes a stored object outside the tables.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url,omitempty"`
}

// ObjectStore holds profile pictures and data requests.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) (ObjectInfo, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) (bool, error)
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Email is an outgoing plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a message synchronously.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// Notifier queues a message for background delivery. It never blocks the
// caller and reports whether the message was accepted.
type Notifier interface {
	Notify(ctx context.Context, msg Email) bool
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, Email) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Email) bool { return false }
