// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package composite

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/store"
	"github.com/northbound/knowledge-core/internal/vectorstore"
)

const minChildrenForComposite = 3

// Enrichment implements the Composite Enrichment of spec.md §4.10: a
// debounced roll-up of a tab_group's child TSTP into the parent
// object's TSTP, with a matching parent vector upsert. The debounce
// timer is grounded on the teacher's
// internal/drone/watcher.Debouncer (per-key time.AfterFunc, cancel on
// reschedule).
type Enrichment struct {
	objects *store.ObjectRepository
	vs      *vectorstore.Store
	gateway *aigw.Gateway

	mu     sync.Mutex
	timers map[string]*time.Timer
	delay  time.Duration
}

func New(objects *store.ObjectRepository, vs *vectorstore.Store, gateway *aigw.Gateway, delay time.Duration) *Enrichment {
	return &Enrichment{
		objects: objects,
		vs:      vs,
		gateway: gateway,
		timers:  make(map[string]*time.Timer),
		delay:   delay,
	}
}

// Schedule collapses any calls for objectID within the debounce window
// into a single execution (spec.md §4.10's trigger clause).
func (e *Enrichment) Schedule(ctx context.Context, objectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if timer, exists := e.timers[objectID]; exists {
		timer.Stop()
	}

	e.timers[objectID] = time.AfterFunc(e.delay, func() {
		e.mu.Lock()
		delete(e.timers, objectID)
		e.mu.Unlock()

		if err := e.run(ctx, objectID); err != nil {
			log.Printf("composite: enrichment for object %s failed: %v", objectID, err)
		}
	})
}

// Cancel is the Composite Enrichment's reschedule-cancels-pending-timer
// semantics (spec.md §5).
func (e *Enrichment) Cancel(objectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, exists := e.timers[objectID]; exists {
		timer.Stop()
		delete(e.timers, objectID)
	}
}

// Stop cancels all pending timers, for shutdown.
func (e *Enrichment) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, timer := range e.timers {
		timer.Stop()
	}
	e.timers = make(map[string]*time.Timer)
}

// run implements spec.md §4.10 steps 1-4.
func (e *Enrichment) run(ctx context.Context, objectID string) error {
	parent, err := e.objects.GetByID(ctx, objectID)
	if err != nil {
		return err
	}
	if parent.ObjectType != "tab_group" {
		return nil
	}

	var childIDs []string
	if parent.ChildObjectIDsJSON != "" {
		_ = json.Unmarshal([]byte(parent.ChildObjectIDsJSON), &childIDs)
	}
	if len(childIDs) < minChildrenForComposite {
		return nil
	}

	children := make([]aigw.ChildSummary, 0, len(childIDs))
	for _, childID := range childIDs {
		child, err := e.objects.GetByID(ctx, childID)
		if err != nil {
			log.Printf("composite: child object %s unreadable, tolerating: %v", childID, err)
			continue
		}
		var tags []string
		if child.TagsJSON != "" {
			_ = json.Unmarshal([]byte(child.TagsJSON), &tags)
		}
		children = append(children, aigw.ChildSummary{
			ID:      child.ID,
			Title:   child.Title,
			Summary: child.Summary,
			Tags:    tags,
		})
	}

	correlationID := aigw.NewCorrelationID()
	tstp, err := e.gateway.GenerateCompositeSummary(ctx, children, correlationID)
	if err != nil {
		log.Printf("composite: composite TSTP generation failed for %s, leaving parent TSTP unchanged: %v", objectID, err)
		return nil
	}

	tagsJSON, _ := json.Marshal(tstp.Tags)
	propositionsJSON, _ := json.Marshal(tstp.Propositions)
	patch := store.ObjectPatch{
		Title:            &tstp.Title,
		Summary:          &tstp.Summary,
		TagsJSON:         jsonString(tagsJSON),
		PropositionsJSON: jsonString(propositionsJSON),
	}
	if err := e.objects.Update(ctx, objectID, patch); err != nil {
		return err
	}

	vectors, err := e.gateway.Embed(ctx, []string{tstp.Summary})
	if err != nil || len(vectors) == 0 {
		log.Printf("composite: parent vector embed failed for %s: %v", objectID, err)
		return nil
	}

	propositionContents := make([]string, 0, len(tstp.Propositions))
	for _, p := range tstp.Propositions {
		propositionContents = append(propositionContents, p.Content)
	}

	now := time.Now().UTC()
	record := vectorstore.Record{
		ID:              uuid.NewString(),
		RecordType:      vectorstore.RecordTypeObject,
		MediaType:       "tab_group",
		Layer:           vectorstore.LayerWOM,
		ProcessingDepth: vectorstore.DepthSummary,
		Vector:          vectors[0],
		Content:         tstp.Summary,
		ObjectID:        objectID,
		TabGroupID:      objectID,
		Title:           tstp.Title,
		Summary:         tstp.Summary,
		Tags:            tstp.Tags,
		Propositions:    propositionContents,
		CreatedAt:       now,
		LastAccessedAt:  now,
	}
	if _, err := e.vs.AddDocuments(ctx, []vectorstore.Record{record}); err != nil {
		log.Printf("composite: parent vector upsert failed for %s: %v", objectID, err)
	}
	return nil
}

func jsonString(b []byte) *string {
	s := string(b)
	return &s
}
