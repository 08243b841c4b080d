package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/migrate"
	"github.com/claystudio/contentsync/internal/publish"
	"github.com/claystudio/contentsync/internal/store"
)

// PublishData describes a publish or delete.
type PublishData struct {
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
	Action string `json:"action"` // published, deleted
}

// MigrationData summarizes a finished migration run.
type MigrationData struct {
	RowsRead int            `json:"rows_read"`
	Built    map[string]int `json:"built"`
	Upserted int            `json:"upserted"`
	Failed   int            `json:"failed"`
	Images   ImageData      `json:"images"`
	Errors   int            `json:"errors"`
	DryRun   bool           `json:"dry_run"`
	Duration time.Duration  `json:"duration"`
}

// ImageData mirrors migrate.ImageStats on the wire.
type ImageData struct {
	Uploaded int `json:"uploaded"`
	Reused   int `json:"reused"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// StatsData contains document counts.
type StatsData struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
	Drafts int            `json:"drafts"`
	Assets int            `json:"assets"`
	Syncs  int            `json:"syncs"`
	Failed int            `json:"failed_syncs"`
}

// Handler turns csync activity into broadcast messages. It implements
// publish.Notifier and is safe for concurrent use.
type Handler struct {
	server *Server
	log    *logger.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ publish.Notifier = (*Handler)(nil)

// NewHandler creates a handler bound to server. New clients are greeted with
// the current stats.
func NewHandler(server *Server, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{
		server: server,
		log:    log.Named("events"),
		stats:  StatsData{ByType: map[string]int{}},
	}
	server.welcome = h.statsMessage
	return h
}

// OnPublished reports a published document.
func (h *Handler) OnPublished(doc *store.Document) {
	h.send(MessageTypePublish, PublishData{ID: doc.ID, Type: doc.Type, Action: "published"})
}

// OnDeleted reports a deleted document.
func (h *Handler) OnDeleted(id string) {
	h.send(MessageTypePublish, PublishData{ID: id, Action: "deleted"})
}

// NotifySync implements publish.Notifier.
func (h *Handler) NotifySync(o publish.Outcome) {
	h.mu.Lock()
	h.stats.Syncs++
	if !o.OK() {
		h.stats.Failed++
	}
	h.mu.Unlock()

	if o.Err != nil && o.Error == "" {
		o.Error = o.Err.Error()
	}
	h.send(MessageTypeSync, o)
	h.broadcastStats()
}

// OnMigrationComplete reports a finished migration run.
func (h *Handler) OnMigrationComplete(res *migrate.Result, dryRun bool, duration time.Duration) {
	h.send(MessageTypeMigration, MigrationData{
		RowsRead: res.RowsRead,
		Built:    res.Built,
		Upserted: res.Upserted,
		Failed:   res.Failed,
		Images: ImageData{
			Uploaded: res.Images.Uploaded,
			Reused:   res.Images.Reused,
			Failed:   res.Images.Failed,
			Pending:  res.Images.Pending,
		},
		Errors:   len(res.Errors),
		DryRun:   dryRun,
		Duration: duration,
	})
}

// UpdateStats replaces the document counts and broadcasts them.
func (h *Handler) UpdateStats(s store.Stats) {
	h.mu.Lock()
	h.stats.Total = s.Total()
	h.stats.ByType = make(map[string]int, len(s.ByType))
	for k, v := range s.ByType {
		h.stats.ByType[k] = v
	}
	h.stats.Drafts = s.Drafts
	h.stats.Assets = s.Assets
	h.mu.Unlock()

	h.broadcastStats()
}

// Stats returns a copy of the current counters.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp := h.stats
	cp.ByType = make(map[string]int, len(h.stats.ByType))
	for k, v := range h.stats.ByType {
		cp.ByType[k] = v
	}
	return cp
}

func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		h.log.Error("failed to marshal stats", "error", err)
		return Message{Type: MessageTypeStats}
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now().UTC(), Data: data}
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("failed to marshal event", "type", typ, "error", err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now().UTC(), Data: data})
}
