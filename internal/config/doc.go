// Package config holds runtime settings for the kehilla data layer.
//
// Values are resolved in layers: built-in defaults, an optional JSON file
// (-c/-config or KEHILLA_CONFIG), a handful of short command-line flags and
// finally individual KEHILLA_* environment variables.
package config
