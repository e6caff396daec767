// Package models defines the domain entities mirrored from the remote
// document store.
package models
