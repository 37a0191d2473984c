package config

import "errors"

var (
	// ErrInvalidTransportType indicates an unsupported tool-server transport.
	ErrInvalidTransportType = errors.New("invalid transport type")

	// ErrMCPServerNotFound indicates a lookup for an unregistered server ID.
	ErrMCPServerNotFound = errors.New("MCP server not found")

	// ErrModelFamilyUnknown indicates a model name that maps to no table row.
	ErrModelFamilyUnknown = errors.New("unknown model family")

	// ErrMissingRequired indicates a required configuration value is absent.
	ErrMissingRequired = errors.New("missing required configuration")
)
