// Package tools provides host command execution shared by the installer,
// the dependency phase and the compose controller.
//
// Ownership boundary:
// - command execution helpers
//
// - command failure classification
//
// - shell quoting for `sh -c` invocations
package tools
