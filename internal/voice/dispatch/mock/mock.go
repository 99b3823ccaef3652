// Package mock provides test doubles for the dispatch boundaries.
package mock

import (
	"context"
	"sync"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/command"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dictation"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dispatch"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/recognition"
)

// Host records every call it receives.
type Host struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every method.
	Err error

	navigations []command.Navigation
	actions     []command.Action
	submissions []dictation.Completion
	failures    []*recognition.Error
}

func (h *Host) Navigate(_ context.Context, nav command.Navigation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigations = append(h.navigations, nav)
	return h.Err
}

func (h *Host) Invoke(_ context.Context, a command.Action) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, a)
	return h.Err
}

func (h *Host) Submit(_ context.Context, c dictation.Completion) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.submissions = append(h.submissions, c)
	return h.Err
}

func (h *Host) Fail(_ context.Context, e *recognition.Error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, e)
	return h.Err
}

// Navigations returns a copy of the recorded Navigate calls.
func (h *Host) Navigations() []command.Navigation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]command.Navigation(nil), h.navigations...)
}

// Actions returns a copy of the recorded Invoke calls.
func (h *Host) Actions() []command.Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]command.Action(nil), h.actions...)
}

// Submissions returns a copy of the recorded Submit calls.
func (h *Host) Submissions() []dictation.Completion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dictation.Completion(nil), h.submissions...)
}

// Failures returns a copy of the recorded Fail calls.
func (h *Host) Failures() []*recognition.Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*recognition.Error(nil), h.failures...)
}

var _ dispatch.Host = (*Host)(nil)

// Recorder records stored submissions.
type Recorder struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from RecordSubmission.
	Err error

	records []dictation.Completion
}

func (r *Recorder) RecordSubmission(_ context.Context, c dictation.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, c)
	return r.Err
}

// Records returns a copy of the recorded submissions.
func (r *Recorder) Records() []dictation.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dictation.Completion(nil), r.records...)
}

var _ dispatch.Recorder = (*Recorder)(nil)

// Notification is one recorded Notify call.
type Notification struct {
	Title   string
	Message string
}

// Notifier records notifications.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *Notifier) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Title: title, Message: message})
	return nil
}

// Sent returns a copy of the recorded notifications.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

var _ dispatch.Notifier = (*Notifier)(nil)
