// Package arch maps the host processor architecture to the asset suffix used
// by Xray-core release archives.
//
// Ownership boundary:
// - architecture resolution (pure)
//
// - host fact probing (uname, cpuinfo, lscpu)
//
// - release asset naming
package arch
