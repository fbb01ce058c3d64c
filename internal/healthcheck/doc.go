// Package healthcheck implements periodic health probing for backend servers.
// It monitors backend availability and updates their health status based on
// HTTP health endpoint responses.
package healthcheck
