// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package watch

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/northbound/knowledge-core/internal/extract"
)

// AddJobFunc is the subset of queue.Queue.AddJob the watcher needs,
// kept as a function type so this package does not import
// internal/queue (an ingestion source is a caller, not the core).
type AddJobFunc func(ctx context.Context, jobType, sourceIdentifier string, priority int) error

// FolderWatcher turns newly-created files in a watched directory into
// add_job calls (SPEC_FULL.md's supplemented source types: a local
// folder watcher as an ingestion source outside the engine boundary).
type FolderWatcher struct {
	watcher *fsnotify.Watcher
	addJob  AddJobFunc
}

func New(addJob AddJobFunc) (*FolderWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FolderWatcher{watcher: w, addJob: addJob}, nil
}

// AddDir starts watching dir for new files.
func (fw *FolderWatcher) AddDir(dir string) error {
	return fw.watcher.Add(dir)
}

// Run processes fsnotify events until ctx is cancelled.
func (fw *FolderWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			fw.watcher.Close()
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			fw.handleCreate(ctx, event.Name)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watch: fsnotify error: %v", err)
		}
	}
}

func (fw *FolderWatcher) handleCreate(ctx context.Context, path string) {
	ext := strings.ToLower(filepath.Ext(path))
	var jobType string
	switch {
	case ext == ".pdf":
		jobType = "pdf"
	case extract.IsDocumentExtension(path):
		jobType = "document"
	default:
		log.Printf("watch: ignoring unsupported file %s", path)
		return
	}

	log.Printf("watch: new file %s -> add_job(%s)", path, jobType)
	if err := fw.addJob(ctx, jobType, path, 0); err != nil {
		log.Printf("watch: add_job for %s failed: %v", path, err)
	}
}
