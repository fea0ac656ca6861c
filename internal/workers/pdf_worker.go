// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workers

import (
	"encoding/json"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/extract"
	"github.com/northbound/knowledge-core/internal/store"
)

// PDFWorker implements the job_type = "pdf" pipeline of spec.md §4.7:
// extract, summarize (no fallback), create object with one chunk
// whose content is the AI summary, hand off to the Chunking Pipeline.
type PDFWorker struct {
	extractor extract.PdfExtractor
	gateway   *aigw.Gateway
	objects   *store.ObjectRepository
	chunks    *store.ChunkRepository
	jobs      *store.JobRepository
}

func NewPDFWorker(extractor extract.PdfExtractor, gateway *aigw.Gateway, objects *store.ObjectRepository, chunks *store.ChunkRepository, jobs *store.JobRepository) *PDFWorker {
	return &PDFWorker{extractor: extractor, gateway: gateway, objects: objects, chunks: chunks, jobs: jobs}
}

// pdfJobData is the opaque job_specific_data payload an add_job("pdf", ...)
// caller supplies: the on-disk path plus file metadata the spec's
// object fields require.
type pdfJobData struct {
	FilePath         string `json:"file_path"`
	FileHash         string `json:"file_hash"`
	OriginalFileName string `json:"original_file_name"`
	FileSizeBytes    int64  `json:"file_size_bytes"`
	FileMimeType     string `json:"file_mime_type"`
}

func (w *PDFWorker) Process(ctx context.Context, job *store.Job) error {
	var data pdfJobData
	if err := json.Unmarshal([]byte(job.JobSpecificData), &data); err != nil {
		return w.failPermanently(ctx, job, "TEXT_EXTRACTION_FAILED: invalid job_specific_data")
	}

	log.Printf("pdf_worker: job id=%s extracting %s", job.ID, data.FilePath)
	result, err := w.extractor.Extract(data.FilePath)
	if err != nil || result.Text == "" {
		return w.failPermanently(ctx, job, fmt.Sprintf("TEXT_EXTRACTION_FAILED: %v", err))
	}

	correlationID := aigw.NewCorrelationID()
	title := result.Info.Title
	if title == "" {
		title = data.OriginalFileName
	}
	tstp, err := w.gateway.GenerateObjectSummary(ctx, result.Text, title, correlationID)
	if err != nil {
		return w.failPermanently(ctx, job, fmt.Sprintf("AI_PROCESSING_FAILED: %v", err))
	}

	tags, _ := json.Marshal(tstp.Tags)
	propositions, _ := json.Marshal(tstp.Propositions)

	obj := &store.Object{
		ObjectType:       "pdf",
		Title:            tstp.Title,
		Status:           store.StatusParsed,
		CleanedText:      result.Text,
		Summary:          tstp.Summary,
		TagsJSON:         string(tags),
		PropositionsJSON: string(propositions),
		FileHash:         data.FileHash,
		OriginalFileName: data.OriginalFileName,
		FileSizeBytes:    data.FileSizeBytes,
		FileMimeType:     data.FileMimeType,
		InternalFilePath: data.FilePath,
		ParsedAt:         sqlNullTime(time.Now().UTC()),
	}
	created, _, err := w.objects.Create(ctx, obj)
	if err != nil {
		return fmt.Errorf("create pdf object: %w", err)
	}

	if err := w.chunks.AddBulk(ctx, []*store.Chunk{{
		ObjectID: created.ID,
		ChunkIdx: 0,
		Content:  tstp.Summary,
		Summary:  tstp.Summary,
		TagsJSON: string(tags),
	}}); err != nil {
		return fmt.Errorf("insert pdf summary chunk: %w", err)
	}

	if err := w.jobs.MarkVectorizing(ctx, job.ID, created.ID); err != nil {
		return fmt.Errorf("mark job vectorizing: %w", err)
	}
	return nil
}

func (w *PDFWorker) failPermanently(ctx context.Context, job *store.Job, reason string) error {
	if err := w.jobs.MarkJobFailed(ctx, job.ID, reason); err != nil {
		log.Printf("pdf_worker: job id=%s failed to mark permanently failed: %v", job.ID, err)
	}
	log.Printf("pdf_worker: job id=%s permanently failed: %s", job.ID, reason)
	return nil
}
