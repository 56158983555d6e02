// Package cli is the gophmove operator command-line client.
//
// It runs one command given on the command line, or an interactive REPL
// when none is given. Commands map onto the management API: list, show,
// accept, reject, transfer and initiate. The token command mints an
// operator token from the server secret and saves it in the local SQLite
// database, and every state-changing command is written to a local
// journal that history prints.
package cli
