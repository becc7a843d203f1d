// Package core provides the staging resolution and load planning engine.
//
// Given logical table references, the active branch and a target workspace,
// the engine decides which physical table each reference reads, how each
// table is loaded, and stages them with as few remote batch jobs as possible.
// It has no transport dependencies and can be used by the HTTP server, the
// CLI or tests without modification.
//
// # Pipeline
//
// [Service.PlanAndExecute] runs these steps for one request:
//
//   - Bucket validation: a production run may not read buckets created or
//     last updated by a development branch ([BucketValidator]).
//   - Source resolution: [Resolver] rewrites each source to its branch copy
//     under real or emulated branch storage.
//   - Planning: [PlanBuilder] fetches table metadata once per physical
//     source and decides clone, view or copy per table ([DecideLoadMethod]).
//   - Execution: [Executor] submits the clone batch, waits for it, then
//     submits the copy batch. The two never overlap on one workspace.
//   - Manifests: succeeded tables get a manifest through a [ManifestWriter].
//
// # Load methods
//
//	clone  snowflake -> snowflake, overwrite only, no filtered alias
//	view   bigquery -> bigquery
//	copy   everything else
//
// A bigquery workspace only accepts bigquery tables loaded with overwrite and
// no alias owned by the same project; anything else is an
// [IncompatibleLoadRequestError] raised before any job is submitted.
//
// # Errors
//
// Configuration errors ([InvalidSourceFormatError], [RestrictedBucketAccessError],
// [IncompatibleLoadRequestError], [InvalidExportOptionsError]) abort a request
// before remote work starts. [JobFailedError] and [StagingTimeoutError] report
// remote failures and name the affected tables. [MapError] turns any of them
// into a coded user message.
//
// # Concurrency
//
// Requests are bounded by a [StagingLimiter] and serialized per workspace.
// Requests for different workspaces run in parallel.
package core
