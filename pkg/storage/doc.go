// Package storage defines the backend contract consumed by synchronized
// state cells.
//
// A backend is a textual key-value Store plus a Notifier that reports
// writes made by other execution contexts sharing it: other views of an
// in-memory space, other processes using the same directory or SQLite
// file, or other relay clients. Implementations live in subpackages:
//
//   - memory: in-process space with per-context views
//   - filestore: one file per key, fsnotify change detection
//   - sqlitestore: SQLite table with a polled change log
//   - s3store: S3 object per key (Store only; pair with a relay Notifier)
//
// Backends never deliver a context's own writes back to it.
package storage
