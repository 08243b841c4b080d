package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/homesync"
	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/store"
)

// Direction names the reconciliation a publish triggered.
type Direction string

const (
	DirectionNone          Direction = "none"
	DirectionContentToHome Direction = "content-to-home"
	DirectionHomeToContent Direction = "home-to-content"
)

// Outcome describes one post-publish sync. Err is set when the sync failed;
// the publish itself has already succeeded at that point.
type Outcome struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Direction Direction     `json:"direction"`
	Patched   int           `json:"patched"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the sync succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Notifier receives every sync outcome.
type Notifier interface {
	NotifySync(o Outcome)
}

// Hook attaches home reconciliation to publish actions.
type Hook struct {
	log      *logger.Logger
	notifier Notifier
	newRec   func(store.Client) homesync.Reconciler
}

// HookOption configures a Hook.
type HookOption func(*Hook)

// WithNotifier reports every outcome to n.
func WithNotifier(n Notifier) HookOption {
	return func(h *Hook) { h.notifier = n }
}

// WithReconciler overrides how the reconciler is built from the elevated
// client.
func WithReconciler(fn func(store.Client) homesync.Reconciler) HookOption {
	return func(h *Hook) { h.newRec = fn }
}

// NewHook returns a hook logging through log.
func NewHook(log *logger.Logger, opts ...HookOption) *Hook {
	if log == nil {
		log = logger.Nop()
	}
	h := &Hook{log: log.Named("publish")}
	h.newRec = func(c store.Client) homesync.Reconciler { return homesync.New(c, log) }
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Wrap decorates a publish action. Actions of any other kind are returned
// unchanged.
func (h *Hook) Wrap(a Action) Action {
	if a.Kind() != KindPublish {
		return a
	}
	return &wrapped{base: a, hook: h}
}

// WrapAll wraps every action in the list.
func (h *Hook) WrapAll(actions []Action) []Action {
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = h.Wrap(a)
	}
	return out
}

type wrapped struct {
	base Action
	hook *Hook
}

func (w *wrapped) Kind() string { return w.base.Kind() }

func (w *wrapped) Run(props Props) *Result {
	original := props.OnComplete
	inner := props
	inner.OnComplete = func(ctx context.Context) {
		defer func() {
			if original != nil {
				original(ctx)
			}
		}()
		w.hook.afterPublish(ctx, props)
	}
	return w.base.Run(inner)
}

// afterPublish runs the sync and swallows every failure, panics included.
func (h *Hook) afterPublish(ctx context.Context, props Props) {
	start := time.Now()
	out := Outcome{ID: content.PublishedID(props.ID), Type: props.Type, Direction: DirectionNone}

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic during sync: %v", r)
		}
		out.Duration = time.Since(start)
		h.report(out)
	}()

	out.Direction, out.Patched, out.Err = h.sync(ctx, props)
}

func (h *Hook) sync(ctx context.Context, props Props) (Direction, int, error) {
	if props.Client == nil {
		return DirectionNone, 0, fmt.Errorf("no client factory for %s", props.ID)
	}
	client, err := props.Client(ClientOptions{Elevated: true})
	if err != nil {
		return DirectionNone, 0, fmt.Errorf("failed to create elevated client: %w", err)
	}

	doc, err := client.Get(ctx, content.PublishedID(props.ID))
	if err != nil {
		return DirectionNone, 0, fmt.Errorf("failed to refetch %s: %w", props.ID, err)
	}

	rec := h.newRec(client)
	switch {
	case content.IsCategoryType(doc.Type):
		snap, err := content.SnapshotFromDocument(doc)
		if err != nil {
			return DirectionContentToHome, 0, err
		}
		return DirectionContentToHome, 0, rec.SyncContentToHome(ctx, snap)

	case content.IsHomePage(doc):
		home, err := content.HomeFromDocument(doc)
		if err != nil {
			return DirectionHomeToContent, 0, err
		}
		n, err := rec.SyncHomeToContent(ctx, home)
		return DirectionHomeToContent, n, err
	}

	return DirectionNone, 0, nil
}

func (h *Hook) report(o Outcome) {
	if o.Err != nil {
		o.Error = o.Err.Error()
		h.log.Warn("post-publish sync failed",
			"id", o.ID,
			"direction", o.Direction,
			"error", o.Err)
	} else if o.Direction != DirectionNone {
		h.log.Info("post-publish sync done",
			"id", o.ID,
			"direction", o.Direction,
			"patched", o.Patched,
			"duration", o.Duration)
	}

	if h.notifier != nil {
		h.notifier.NotifySync(o)
	}
}
