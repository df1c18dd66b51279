// Package events wires the standard research-graph events to the projects
// directory. Handlers extract the graph uid and hand the fields to a
// DirectoryStore; everything beyond that call lives in the wider backend.
package events

import (
	"context"
	"fmt"

	"github.com/projects-backend/crisalidbus/internal/runtime"
	"github.com/projects-backend/crisalidbus/internal/runtime/logging"
	"github.com/projects-backend/crisalidbus/internal/runtime/tasks"
)

// DirectoryStore is the slice of the projects directory the bus populates.
type DirectoryStore interface {
	UpsertResearcher(ctx context.Context, tenant string, fields map[string]any) error
	DeleteResearcher(ctx context.Context, tenant, uid string) error
	UpsertStructure(ctx context.Context, tenant string, fields map[string]any) error
	DeleteStructure(ctx context.Context, tenant, uid string) error
	UpsertDocument(ctx context.Context, tenant string, fields map[string]any) error
	DeleteDocument(ctx context.Context, tenant, uid string) error
}

// Options control how the directory handlers run.
type Options struct {
	// Bridge defers every handler onto the task queue when set; otherwise
	// handlers run inline on the connection goroutine.
	Bridge *tasks.Bridge
}

// RegisterDirectoryHandlers binds the created/updated/deleted events of
// persons, research structures, and documents to store. Harvesting results
// carry no directory work and stay unregistered.
func RegisterDirectoryHandlers(reg *runtime.Registry, store DirectoryStore, opts Options) error {
	if store == nil {
		return fmt.Errorf("events: directory store cannot be nil")
	}

	wrap := func(name string, h runtime.Handler) runtime.Handler {
		if opts.Bridge != nil {
			return opts.Bridge.Task(name, h)
		}
		return h
	}

	upsertResearcher := wrap("upsert_researcher", store.UpsertResearcher)
	deleteResearcher := wrap("delete_researcher", deleteByUID(store.DeleteResearcher))
	upsertStructure := wrap("upsert_structure", store.UpsertStructure)
	deleteStructure := wrap("delete_structure", deleteByUID(store.DeleteStructure))
	upsertDocument := wrap("upsert_document", store.UpsertDocument)
	deleteDocument := wrap("delete_document", deleteByUID(store.DeleteDocument))

	bindings := []struct {
		t runtime.MessageType
		k runtime.EventKind
		h runtime.Handler
	}{
		{runtime.TypePerson, runtime.EventCreated, upsertResearcher},
		{runtime.TypePerson, runtime.EventUpdated, upsertResearcher},
		{runtime.TypePerson, runtime.EventDeleted, deleteResearcher},
		{runtime.TypeResearchStructure, runtime.EventCreated, upsertStructure},
		{runtime.TypeResearchStructure, runtime.EventUpdated, upsertStructure},
		{runtime.TypeResearchStructure, runtime.EventDeleted, deleteStructure},
		{runtime.TypeDocument, runtime.EventCreated, upsertDocument},
		{runtime.TypeDocument, runtime.EventUpdated, upsertDocument},
		{runtime.TypeDocument, runtime.EventDeleted, deleteDocument},
	}

	for _, b := range bindings {
		if err := reg.Register(b.t, b.k, b.h); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}
	return nil
}

// deleteByUID adapts a delete-by-uid store call to the handler signature.
func deleteByUID(del func(ctx context.Context, tenant, uid string) error) runtime.Handler {
	return func(ctx context.Context, tenant string, fields map[string]any) error {
		uid, _ := fields["uid"].(string)
		if uid == "" {
			return fmt.Errorf("delete event without uid field")
		}
		return del(ctx, tenant, uid)
	}
}

// LogStore is a DirectoryStore that only logs the requested effect. It is
// the default store of the standalone daemon, where the real directory
// lives in the main backend, and doubles as a test fixture.
type LogStore struct {
	log logging.ServiceLogger
}

func NewLogStore(log logging.ServiceLogger) *LogStore {
	if log == nil {
		log = logging.Nop()
	}
	return &LogStore{log: log}
}

func (s *LogStore) UpsertResearcher(_ context.Context, tenant string, fields map[string]any) error {
	s.log.Info("upsert researcher", logging.LogFields{"tenant": tenant, "uid": fields["uid"]})
	return nil
}

func (s *LogStore) DeleteResearcher(_ context.Context, tenant, uid string) error {
	s.log.Info("delete researcher", logging.LogFields{"tenant": tenant, "uid": uid})
	return nil
}

func (s *LogStore) UpsertStructure(_ context.Context, tenant string, fields map[string]any) error {
	s.log.Info("upsert structure", logging.LogFields{"tenant": tenant, "uid": fields["uid"]})
	return nil
}

func (s *LogStore) DeleteStructure(_ context.Context, tenant, uid string) error {
	s.log.Info("delete structure", logging.LogFields{"tenant": tenant, "uid": uid})
	return nil
}

func (s *LogStore) UpsertDocument(_ context.Context, tenant string, fields map[string]any) error {
	s.log.Info("upsert document", logging.LogFields{"tenant": tenant, "uid": fields["uid"]})
	return nil
}

func (s *LogStore) DeleteDocument(_ context.Context, tenant, uid string) error {
	s.log.Info("delete document", logging.LogFields{"tenant": tenant, "uid": uid})
	return nil
}
