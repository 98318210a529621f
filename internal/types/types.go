package types

import (
	"context"
	"time"
)

type ProcessType int

const (
	ProcessNew ProcessType = iota
	ProcessModified
	ProcessNothingToDo
	ProcessBanned
)

func (p ProcessType) String() string {
	switch p {
	case ProcessNew:
		return "new"
	case ProcessModified:
		return "modified"
	case ProcessNothingToDo:
		return "nothing_to_do"
	case ProcessBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// Actionable reports whether a resource with this classification is dispatched to a worker.
func (p ProcessType) Actionable() bool {
	return p == ProcessNew || p == ProcessModified
}

type ResultType int

const (
	ResultNormal ResultType = iota
	ResultError
)

func (r ResultType) String() string {
	if r == ResultError {
		return "error"
	}
	return "normal"
}

// ResourceMetadata is what a provider knows about a resource without fetching it.
type ResourceMetadata struct {
	ResourceID  string
	Fingerprint string
	Modified    time.Time
}

type ResourceContent struct {
	ResourceID  string
	Data        []byte
	ContentType string
	Attributes  map[string]string
}

func (c *ResourceContent) Attribute(key string) string {
	if c == nil || c.Attributes == nil {
		return ""
	}
	return c.Attributes[key]
}

// ResourceState is the persisted memory of a resource between cycles.
type ResourceState struct {
	Tenant      string     `json:"tenant"`
	ResourceID  string     `json:"resource_id"`
	Fingerprint string     `json:"fingerprint"`
	Modified    time.Time  `json:"modified"`
	RetryCount  uint       `json:"retry_count"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	Extensions  []byte     `json:"extensions,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (s ResourceState) IsBanned(now time.Time) bool {
	return s.BannedUntil != nil && now.Before(*s.BannedUntil)
}

// Clone returns a deep copy so stores never share slices or pointers with callers.
func (s ResourceState) Clone() ResourceState {
	c := s
	if s.BannedUntil != nil {
		t := *s.BannedUntil
		c.BannedUntil = &t
	}
	if s.Extensions != nil {
		c.Extensions = append([]byte(nil), s.Extensions...)
	}
	return c
}

type ListFilter struct {
	// ModifiedSince is zero when no age filter applies.
	ModifiedSince time.Time
}

// Excludes reports whether meta is older than ModifiedSince. A resource with
// no known modification time is never excluded.
func (f ListFilter) Excludes(meta ResourceMetadata) bool {
	if f.ModifiedSince.IsZero() || meta.Modified.IsZero() {
		return false
	}
	return meta.Modified.Before(f.ModifiedSince)
}

type Provider interface {
	Name() string
	Initialize(ctx context.Context) error
	List(ctx context.Context, filter ListFilter) (<-chan ResourceMetadata, <-chan error)
	Fetch(ctx context.Context, resourceID string) (*ResourceContent, error)
	Shutdown(ctx context.Context) error
}

// ChangeNotifier is implemented by providers that can tell when their source
// changed, so the host does not have to wait for its next scheduled cycle.
type ChangeNotifier interface {
	OnChange(fn func())
}

// Resource is the unit a processor chain works on. Stages may read and replace
// Extensions and pass derived values to later stages through Attributes.
type Resource struct {
	Metadata    ResourceMetadata
	Content     *ResourceContent
	ProcessType ProcessType
	Tenant      string
	Extensions  []byte
	Attributes  map[string]string
}

func NewResource(tenant string, meta ResourceMetadata, content *ResourceContent, pt ProcessType, extensions []byte) *Resource {
	attrs := make(map[string]string)
	if content != nil {
		for k, v := range content.Attributes {
			attrs[k] = v
		}
	}
	return &Resource{
		Metadata:    meta,
		Content:     content,
		ProcessType: pt,
		Tenant:      tenant,
		Extensions:  extensions,
		Attributes:  attrs,
	}
}

func (r *Resource) ID() string {
	return r.Metadata.ResourceID
}

func (r *Resource) Data() []byte {
	if r.Content == nil {
		return nil
	}
	return r.Content.Data
}

func (r *Resource) SetData(data []byte) {
	if r.Content == nil {
		r.Content = &ResourceContent{ResourceID: r.ID()}
	}
	r.Content.Data = data
}

func (r *Resource) Attribute(key string) string {
	return r.Attributes[key]
}

func (r *Resource) SetAttribute(key, value string) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]string)
	}
	r.Attributes[key] = value
}

type Processor interface {
	Name() string
	Process(ctx context.Context, res *Resource) error
}

// Outcome is the per-resource result of one cycle.
type Outcome struct {
	WorkerName  string
	CycleID     string
	ResourceID  string
	ProcessType ProcessType
	ResultType  ResultType
	Duration    time.Duration
	Err         error
	Retryable   bool
	State       *ResourceState
	StateErr    error
}

// Dangling reports a successful processing run whose state could not be recorded.
func (o Outcome) Dangling() bool {
	return o.ResultType == ResultNormal && o.StateErr != nil
}
