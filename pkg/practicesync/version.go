// Package practicesync holds build metadata for the practicesync module.
package practicesync

// Version is the release version of the module and its binary.
const Version = "0.3.0"
