// Package api contains the HTTP handlers for the download queue:
// operator authentication and the download task endpoints (create,
// list, inspect, cancel, retry, statistics). Handlers translate
// between HTTP and the service layer and never touch the store
// directly.
package api
