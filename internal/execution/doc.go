// Package execution schedules virtual users. A mode ramps the number of
// concurrently running VUs along a stage schedule, each VU looping over
// iterations, and drains in-flight iterations when the run stops.
package execution
