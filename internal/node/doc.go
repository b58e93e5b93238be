// Package node owns the MarzNode installation lifecycle.
//
// Ownership boundary:
// - install / uninstall / update flows
//
// - start / stop / restart / status / logs over the compose controller
//
// - version reporting
//
// Lifecycle order:
// - resolve arch -> dependencies -> directory -> engine -> credentials -> descriptor -> state -> up
//
// - a failed install removes the directory it created.
//
// Installation presence is read only through state.Store.
package node
