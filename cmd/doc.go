// Package cmd implements the command-line interface of portrpc. It provides
// commands for running a server and for calling procedures as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a server that offers the echo module on every port
//   - call: Client commands (call, stream, bench)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set as environment variables with the PORTRPC_ prefix
// (e.g. PORTRPC_ENDPOINT=/tmp/portrpc.sock), .env and .env.local are loaded.
//
// See portrpc -help for a list of all commands.
package cmd
