// Package hoststate holds the read-only view of the AEM instance that the
// built-in health checks inspect: OSGi bundles, replication agents and the
// Sling job manager.
//
// The data arrives as a [Snapshot] exported by the instance (a YAML or JSON
// document) and is published through a [Store], which serves it lock-free
// behind an atomic pointer. A [Watcher] polls a [Source] (local file or S3
// object, optionally signed with a KMS key) and swaps new snapshots in when
// the source version changes.
//
// The Store implements the collaborator interfaces the checks consume, so
// checks never see where the data came from.
package hoststate
