// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workers

import (
	"database/sql"
	"time"
)

func sqlNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
