// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"encoding/json"
	"log"
)

// ObjectBioEvent is one entry in an object's cognitive bio timeline.
type ObjectBioEvent struct {
	What     string   `json:"what"`
	WithWhom []string `json:"withWhom"`
	Resulted string   `json:"resulted"`
	At       string   `json:"at"`
}

// ObjectBio is the opaque `object_bio` blob (spec.md §3).
type ObjectBio struct {
	CreatedAt string           `json:"createdAt"`
	Events    []ObjectBioEvent `json:"events"`
}

// Relationship is one entry in `object_relationships.related`.
type Relationship struct {
	To            string   `json:"to"`
	Nature        string   `json:"nature"`
	Strength      float64  `json:"strength"`
	TopicAffinity *float64 `json:"topicAffinity,omitempty"`
	Formed        string   `json:"formed"`
}

// ObjectRelationships is the opaque `object_relationships` blob.
type ObjectRelationships struct {
	Related []Relationship `json:"related"`
}

// ParseObjectBio validates and decodes raw into an ObjectBio. On
// malformed JSON it logs a warning and returns (nil, nil) rather than
// propagating the error: cognitive blobs downgrade to "absent" on
// read per spec.md §9 instead of corrupting the caller.
func ParseObjectBio(raw string) (*ObjectBio, error) {
	if raw == "" {
		return nil, nil
	}
	var bio ObjectBio
	if err := json.Unmarshal([]byte(raw), &bio); err != nil {
		log.Printf("ParseObjectBio: malformed object_bio, treating as absent: %v", err)
		return nil, nil
	}
	return &bio, nil
}

// ParseObjectRelationships validates and decodes raw into
// ObjectRelationships, with the same absent-on-malformed-JSON policy
// as ParseObjectBio.
func ParseObjectRelationships(raw string) (*ObjectRelationships, error) {
	if raw == "" {
		return nil, nil
	}
	var rel ObjectRelationships
	if err := json.Unmarshal([]byte(raw), &rel); err != nil {
		log.Printf("ParseObjectRelationships: malformed object_relationships, treating as absent: %v", err)
		return nil, nil
	}
	return &rel, nil
}

// RemoveRelationship strips every entry whose `to` equals target,
// returning the re-serialized blob. Used by the deletion orchestrator's
// reverse-relationship cleanup (spec.md §4.11 step b).
func RemoveRelationship(raw string, target string) (string, bool, error) {
	rel, err := ParseObjectRelationships(raw)
	if err != nil {
		return raw, false, err
	}
	if rel == nil {
		return raw, false, nil
	}

	kept := rel.Related[:0]
	removed := false
	for _, r := range rel.Related {
		if r.To == target {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return raw, false, nil
	}
	rel.Related = kept

	out, err := json.Marshal(rel)
	if err != nil {
		return raw, false, err
	}
	return string(out), true, nil
}
