// Package release fetches Xray-core releases.
//
// Ownership boundary:
// - GitHub release listing
//
// - bounds-checked version selection
//
// - asset download and archive extraction
package release
