// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/extract"
	"github.com/northbound/knowledge-core/internal/store"
)

const htmlParseTimeout = 30 * time.Second

// URLWorker implements the job_type = "url" pipeline of spec.md §4.6:
// fetch, parse, summarize (with fallback), upsert object, hand off to
// the Chunking Pipeline.
type URLWorker struct {
	fetcher extract.Fetcher
	parser  extract.Parser
	gateway *aigw.Gateway
	objects *store.ObjectRepository
	jobs    *store.JobRepository
}

func NewURLWorker(fetcher extract.Fetcher, parser extract.Parser, gateway *aigw.Gateway, objects *store.ObjectRepository, jobs *store.JobRepository) *URLWorker {
	return &URLWorker{fetcher: fetcher, parser: parser, gateway: gateway, objects: objects, jobs: jobs}
}

// Process is the queue.Processor body for job_type = "url".
func (w *URLWorker) Process(ctx context.Context, job *store.Job) error {
	url := job.SourceIdentifier
	log.Printf("url_worker: job id=%s fetching %s", job.ID, url)

	fetched, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if fetched.HTTPStatus >= 400 && fetched.HTTPStatus < 500 {
		return w.failPermanently(ctx, job, fmt.Sprintf("fetch returned client error status %d", fetched.HTTPStatus))
	}
	if fetched.HTTPStatus >= 500 {
		return fmt.Errorf("fetch %s returned server error status %d", url, fetched.HTTPStatus)
	}

	readability, ok := w.parseWithTimeout(fetched.HTML, fetched.FinalURL)
	if !ok {
		return w.failPermanently(ctx, job, "html parse timed out or returned no content")
	}

	correlationID := aigw.NewCorrelationID()
	tstp, err := w.gateway.GenerateObjectSummary(ctx, readability.TextContent, readability.Title, correlationID)
	if err != nil {
		log.Printf("url_worker: job id=%s AI summary failed, using fallback: %v", job.ID, err)
		tstp = aigw.TSTP{
			Title:        readability.Title,
			Summary:      "Summary of: " + readability.Title,
			Tags:         []string{},
			Propositions: []aigw.Proposition{},
		}
	}

	parsedContent, _ := json.Marshal(map[string]any{
		"title":        readability.Title,
		"content":      readability.Content,
		"byline":       readability.Byline,
		"excerpt":      readability.Excerpt,
		"text_content": readability.TextContent,
	})
	tags, _ := json.Marshal(tstp.Tags)
	propositions, _ := json.Marshal(tstp.Propositions)
	now := time.Now().UTC()

	objectID, preExisting, existingStatus, err := w.upsertObject(ctx, job, fetched.FinalURL, readability, tstp, string(parsedContent), string(tags), string(propositions), now)
	if err != nil {
		return err
	}

	// A source_uri collision against an object already past "parsed"
	// (embedding/embedded/embedding_failed/error) will never be picked
	// up by Pipeline.Tick's GetProcessable, which only selects
	// status="parsed" — marking this job vectorizing would strand it
	// forever. Scenario B (spec.md §4.6) marks it completed instead.
	if preExisting && existingStatus != store.StatusParsed {
		if err := w.jobs.MarkCompleted(ctx, job.ID, &objectID); err != nil {
			return fmt.Errorf("mark job completed for duplicate source_uri: %w", err)
		}
		return nil
	}

	if err := w.jobs.MarkVectorizing(ctx, job.ID, objectID); err != nil {
		return fmt.Errorf("mark job vectorizing: %w", err)
	}
	return nil
}

func (w *URLWorker) upsertObject(ctx context.Context, job *store.Job, finalURL string, readability extract.Readability, tstp aigw.TSTP, parsedContentJSON, tagsJSON, propositionsJSON string, now time.Time) (id string, preExisting bool, existingStatus string, err error) {
	status := store.StatusParsed
	if job.RelatedObjectID.Valid {
		patch := store.ObjectPatch{
			Title:             &readability.Title,
			CleanedText:       &readability.TextContent,
			ParsedContentJSON: &parsedContentJSON,
			Status:            &status,
			Summary:           &tstp.Summary,
			TagsJSON:          &tagsJSON,
			PropositionsJSON:  &propositionsJSON,
			ParsedAt:          &now,
		}
		if err := w.objects.Update(ctx, job.RelatedObjectID.String, patch); err != nil {
			return "", false, "", fmt.Errorf("update object: %w", err)
		}
		return job.RelatedObjectID.String, false, "", nil
	}

	obj := &store.Object{
		ObjectType:        "webpage",
		Title:             readability.Title,
		Status:            status,
		CleanedText:       readability.TextContent,
		ParsedContentJSON: parsedContentJSON,
		Summary:           tstp.Summary,
		TagsJSON:          tagsJSON,
		PropositionsJSON:  propositionsJSON,
		ParsedAt:          sqlNullTime(now),
	}
	obj.SourceURI.String = finalURL
	obj.SourceURI.Valid = true

	created, existed, err := w.objects.Create(ctx, obj)
	if err != nil {
		return "", false, "", fmt.Errorf("create object: %w", err)
	}
	return created.ID, existed, created.Status, nil
}

func (w *URLWorker) parseWithTimeout(html, url string) (extract.Readability, bool) {
	type result struct {
		readability extract.Readability
		ok          bool
	}
	done := make(chan result, 1)
	go func() {
		r, ok := w.parser.Parse(html, url)
		done <- result{r, ok}
	}()

	select {
	case r := <-done:
		return r.readability, r.ok
	case <-time.After(htmlParseTimeout):
		return extract.Readability{}, false
	}
}

// failPermanently marks the job failed directly (bypassing the
// queue's retry/backoff path) and returns nil so the queue does not
// also apply ApplyFailure's attempts-based retry decision on top of
// it (spec.md §4.6 step 1/2: 4xx and parse failures fail outright).
func (w *URLWorker) failPermanently(ctx context.Context, job *store.Job, reason string) error {
	if err := w.jobs.MarkJobFailed(ctx, job.ID, reason); err != nil {
		log.Printf("url_worker: job id=%s failed to mark permanently failed: %v", job.ID, err)
	}
	log.Printf("url_worker: job id=%s permanently failed: %s", job.ID, reason)
	return nil
}
