// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/extract"
	"github.com/northbound/knowledge-core/internal/store"
)

// DocumentWorker implements the job_type = "document" pipeline for the
// supplemented docx/xlsx/eml source types (SPEC_FULL.md's [EXPANSION]
// section): extract text via internal/extract's extension dispatch,
// summarize (with the same deterministic fallback as the URL worker,
// since these are note-like sources rather than PDF-like ones), create
// an object with object_type = "document", hand off to the Chunking
// Pipeline.
type DocumentWorker struct {
	gateway *aigw.Gateway
	objects *store.ObjectRepository
	jobs    *store.JobRepository
}

func NewDocumentWorker(gateway *aigw.Gateway, objects *store.ObjectRepository, jobs *store.JobRepository) *DocumentWorker {
	return &DocumentWorker{gateway: gateway, objects: objects, jobs: jobs}
}

func (w *DocumentWorker) Process(ctx context.Context, job *store.Job) error {
	path := job.SourceIdentifier
	if !extract.IsDocumentExtension(path) {
		return w.failPermanently(ctx, job, fmt.Sprintf("unsupported document extension: %s", filepath.Ext(path)))
	}

	log.Printf("document_worker: job id=%s extracting %s", job.ID, path)
	text, err := extract.ExtractDocument(path)
	if err != nil || text == "" {
		return w.failPermanently(ctx, job, fmt.Sprintf("TEXT_EXTRACTION_FAILED: %v", err))
	}

	title := filepath.Base(path)
	correlationID := aigw.NewCorrelationID()
	tstp, err := w.gateway.GenerateObjectSummary(ctx, text, title, correlationID)
	if err != nil {
		log.Printf("document_worker: job id=%s AI summary failed, using fallback: %v", job.ID, err)
		tstp = aigw.TSTP{
			Title:        title,
			Summary:      "Summary of: " + title,
			Tags:         []string{},
			Propositions: []aigw.Proposition{},
		}
	}

	tags, _ := json.Marshal(tstp.Tags)
	propositions, _ := json.Marshal(tstp.Propositions)

	obj := &store.Object{
		ObjectType:       "document",
		Title:            tstp.Title,
		Status:           store.StatusParsed,
		CleanedText:      text,
		Summary:          tstp.Summary,
		TagsJSON:         string(tags),
		PropositionsJSON: string(propositions),
		InternalFilePath: path,
		ParsedAt:         sqlNullTime(time.Now().UTC()),
	}
	obj.SourceURI.String = path
	obj.SourceURI.Valid = true

	created, preExisting, err := w.objects.Create(ctx, obj)
	if err != nil {
		return fmt.Errorf("create document object: %w", err)
	}

	// Same duplicate-source_uri hand-off as the URL worker: an object
	// already past "parsed" will never be reclaimed by Pipeline.Tick,
	// so this job must complete rather than go vectorizing.
	if preExisting && created.Status != store.StatusParsed {
		if err := w.jobs.MarkCompleted(ctx, job.ID, &created.ID); err != nil {
			return fmt.Errorf("mark job completed for duplicate source_uri: %w", err)
		}
		return nil
	}

	if err := w.jobs.MarkVectorizing(ctx, job.ID, created.ID); err != nil {
		return fmt.Errorf("mark job vectorizing: %w", err)
	}
	return nil
}

func (w *DocumentWorker) failPermanently(ctx context.Context, job *store.Job, reason string) error {
	if err := w.jobs.MarkJobFailed(ctx, job.ID, reason); err != nil {
		log.Printf("document_worker: job id=%s failed to mark permanently failed: %v", job.ID, err)
	}
	log.Printf("document_worker: job id=%s permanently failed: %s", job.ID, reason)
	return nil
}
