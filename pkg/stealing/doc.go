// Package stealing implements job stealing collision resolution.
//
// Each collision check first activates waiting jobs while the node runs fewer
// than ActiveJobsThreshold jobs. It then serves steal requests received from
// peers by rejecting the newest waiting jobs to the requester, and finally,
// when the node is completely idle, asks one eligible peer for work. A job is
// never stolen more than MaxStealingAttempts times.
package stealing
