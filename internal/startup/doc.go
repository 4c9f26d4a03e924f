// Package startup handles configuration loading, directory validation
// and startup logging for the photomap service. Configuration comes from
// environment variables and is passed as an explicit Config structure to
// the components that need it.
package startup
