// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package vectorstore

import (
	"fmt"
	"strings"
)

// Filter is the closed filter language of spec.md §4.2. Every field is
// optional; a zero Filter matches every row. Array-shaped fields
// (Layer, ProcessingDepth, MediaType, ObjectID) accept either a single
// value, mapped to SQL =, or a set, mapped to SQL IN (...).
type Filter struct {
	Layer           []string
	ProcessingDepth []string
	MediaType       []string
	ObjectID        []string

	NotebookID string
	TabGroupID string

	CreatedAfter  string
	CreatedBefore string

	TitleContains   string
	ContentContains string

	CustomWhere string
}

// escapeLiteral doubles embedded single quotes, per spec.md §4.2.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func inOrEq(column string, values []string) string {
	if len(values) == 1 {
		return fmt.Sprintf("%s = '%s'", quoteIdent(column), escapeLiteral(values[0]))
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + escapeLiteral(v) + "'"
	}
	return fmt.Sprintf("%s IN (%s)", quoteIdent(column), strings.Join(quoted, ", "))
}

// BuildWhere translates f into a SQL WHERE clause body (no leading
// "WHERE"), following the quote-doubling / always-quoted-identifier
// convention spec.md §4.2 specifies, grounded on the teacher pack's
// LanceDB filter builder (aqua777-ai-nexus/vectordb/v1/lancedb).
func (f Filter) BuildWhere() string {
	var clauses []string

	if len(f.Layer) > 0 {
		clauses = append(clauses, inOrEq("layer", f.Layer))
	}
	if len(f.ProcessingDepth) > 0 {
		clauses = append(clauses, inOrEq("processing_depth", f.ProcessingDepth))
	}
	if len(f.MediaType) > 0 {
		clauses = append(clauses, inOrEq("media_type", f.MediaType))
	}
	if len(f.ObjectID) > 0 {
		clauses = append(clauses, inOrEq("object_id", f.ObjectID))
	}
	if f.NotebookID != "" {
		clauses = append(clauses, fmt.Sprintf("%s = '%s'", quoteIdent("notebook_id"), escapeLiteral(f.NotebookID)))
	}
	if f.TabGroupID != "" {
		clauses = append(clauses, fmt.Sprintf("%s = '%s'", quoteIdent("tab_group_id"), escapeLiteral(f.TabGroupID)))
	}
	if f.CreatedAfter != "" {
		clauses = append(clauses, fmt.Sprintf("%s > '%s'", quoteIdent("created_at"), escapeLiteral(f.CreatedAfter)))
	}
	if f.CreatedBefore != "" {
		clauses = append(clauses, fmt.Sprintf("%s < '%s'", quoteIdent("created_at"), escapeLiteral(f.CreatedBefore)))
	}
	if f.TitleContains != "" {
		clauses = append(clauses, fmt.Sprintf("%s LIKE '%%%s%%'", quoteIdent("title"), escapeLiteral(f.TitleContains)))
	}
	if f.ContentContains != "" {
		clauses = append(clauses, fmt.Sprintf("%s LIKE '%%%s%%'", quoteIdent("content"), escapeLiteral(f.ContentContains)))
	}
	if f.CustomWhere != "" {
		clauses = append(clauses, "("+f.CustomWhere+")")
	}

	return strings.Join(clauses, " AND ")
}
