// Package agent keeps the local job queue of a grid node and runs the
// collision check loop over it.
package agent
