// Package api exposes an admin HTTP surface for the worker pool.
//
// The server starts scenarios in the background, reports pool and worker
// status as JSON, serves Prometheus metrics on /metrics and streams pool
// lifecycle events to WebSocket clients on /ws.
package api
