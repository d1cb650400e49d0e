// Package output renders ax command results as tables, JSON, YAML, or Go
// templates with sprig functions.
package output
