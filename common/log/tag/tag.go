// Package tag provides typed constructors for structured log fields, so call
// sites pass tag.WorkflowID(id) instead of bare ("workflowId", id) pairs.
package tag

import "go.uber.org/zap"

// Tag is a single structured logging field, backed directly by a zap.Field
// so the zap-based Logger implementation can pass them through unchanged.
type Tag = zap.Field

func NamespaceID(v string) Tag  { return zap.String("namespace-id", v) }
func WorkflowID(v string) Tag   { return zap.String("workflow-id", v) }
func RunID(v string) Tag        { return zap.String("run-id", v) }
func ShardID(v int32) Tag       { return zap.Int32("shard-id", v) }
func TaskQueue(v string) Tag    { return zap.String("task-queue", v) }
func TaskID(v int64) Tag        { return zap.Int64("task-id", v) }
func LeaseID(v string) Tag      { return zap.String("lease-id", v) }
func EventID(v int64) Tag       { return zap.Int64("event-id", v) }
func Version(v int64) Tag       { return zap.Int64("version", v) }
func Attempt(v int32) Tag       { return zap.Int32("attempt", v) }
func ComponentName(v string) Tag { return zap.String("component", v) }
func WorkerIdentity(v string) Tag { return zap.String("worker-identity", v) }
func Error(err error) Tag       { return zap.Error(err) }
func Value(key string, v interface{}) Tag { return zap.Any(key, v) }
