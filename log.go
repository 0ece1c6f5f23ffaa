package coreql

import (
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the package-wide structured logger. The collaborator host
// may swap it for one preconfigured with its own output/hooks; the
// core never creates its own handler the way the teacher's
// auth/audit.go takes logrus as given rather than configuring it.
var Logger = logrus.StandardLogger()

// NewQueryID mints an idempotent request id a caller can retry a
// `PartitionMigrated` query with (spec.md §7 "Resource errors ...
// retried by the caller on an idempotent request id").
func NewQueryID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}

// WithQuery returns a logger scoped to one query's evaluation, the
// field set referenced throughout SPEC_FULL.md's ambient-stack section.
func WithQuery(table, partition, queryID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"table":     table,
		"partition": partition,
		"query_id":  queryID,
	})
}

// WithEntity narrows a query-scoped logger to a single entity (field
// entity_id).
func WithEntity(entry *logrus.Entry, entityID string) *logrus.Entry {
	return entry.WithField("entity_id", entityID)
}
