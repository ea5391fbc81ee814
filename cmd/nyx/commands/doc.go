// Package commands defines the nyx peer CLI.
//
// Commands
//
//   - issue           Publish a rendezvous code and wait for a peer
//   - connect <code>  Start a session with the holder of code
//
// Both commands then read the terminal: a plain line is sent as an
// encrypted message, and lines starting with a slash are commands
// (/file, /verify, /status, /quit).
package commands
