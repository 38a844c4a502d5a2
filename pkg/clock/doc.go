// Package clock provides the wall-clock capability used by the routing and
// tracking code. Production code uses System; tests drive time explicitly
// with Manual so window boundaries can be checked exactly.
package clock
