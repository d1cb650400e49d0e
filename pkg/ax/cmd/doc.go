// Package cmd implements the cobra command tree for the ax CLI: device flow
// login, token inspection, resource calls, configuration and shell completion.
package cmd
