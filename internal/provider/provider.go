// Package provider provides the common interface for asynchronous generation
// providers. The video model API and the image prediction API both implement
// it through adapters, so the submitter, poller and pipeline runner never
// depend on a concrete client.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/maauso/videoforge-api/internal/apperr"
)

// Status represents the status of a provider job in the service's vocabulary.
type Status string

// Common job statuses across providers.
const (
	StatusQueued     Status = "queued"     // Accepted but not yet running
	StatusProcessing Status = "processing" // Running
	StatusCompleted  Status = "completed"  // Finished with an output
	StatusFailed     Status = "failed"     // Failed, cancelled or timed out
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind is what a provider produces.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Request contains the parameters of a generation job.
type Request struct {
	Prompt            string
	ImageURL          string // Start frame or input image
	EndImageURL       string // End frame (video only)
	ReferenceImageURL string // Identity/face reference (image only)
	AudioURL          string // Driving audio (video only)
	Duration          string // Clip duration in seconds (video only)
}

// Result contains the result of polling a job's status.
type Result struct {
	Status    Status
	OutputURL string // Only set when Status is StatusCompleted
	Error     string // Only set when Status is StatusFailed
	Progress  int    // 0-100, or -1 when unknown
}

// Provider defines the interface for asynchronous generation providers.
type Provider interface {
	// Name identifies the provider; it is stored on every job it owns.
	Name() string

	// Kind reports what the provider produces.
	Kind() Kind

	// Submit starts a job and returns its ledger id. Adapters namespace
	// the service-issued id with JobID.
	Submit(ctx context.Context, req Request) (jobID string, err error)

	// Poll checks the status of a job.
	Poll(ctx context.Context, jobID string) (Result, error)
}

// JobID namespaces a service-issued id by kind, so ids issued by the video
// and image services never collide in the ledger.
func JobID(kind Kind, remoteID string) string {
	return string(kind) + ":" + remoteID
}

// RemoteID returns the service-issued part of a job id built by JobID.
// Ids without the namespace are returned unchanged.
func RemoteID(kind Kind, jobID string) string {
	return strings.TrimPrefix(jobID, string(kind)+":")
}

func pollError(name string, err error, permanent bool) *apperr.ProviderError {
	pe := apperr.NewProvider(name, "poll", err)
	pe.Permanent = permanent
	return pe
}

// Registry resolves providers by name. The poller uses it to resume
// tracking of non-terminal jobs found in the ledger at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
