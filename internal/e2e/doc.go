// Package e2e holds tests that wire the real watcher, coordinator, runner,
// ledger and event hub together against scripts on disk.
package e2e
