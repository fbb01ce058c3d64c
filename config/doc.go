// Package config loads, validates and hot-swaps the proxy configuration.
// Snapshots are immutable; the Store publishes them through an atomic
// pointer so readers are wait-free and never observe a torn config.
package config
