// Package server hosts the Fiber HTTP service: the middleware chain that
// assigns request IDs and recovers panics, the favicon short-circuit, the
// cache → forward handler order, and the error boundary that turns any
// unhandled failure into a uniform 500. It also owns the shared upstream
// http.Client, the hop-by-hop header filter used on the forwarding path,
// and the Lifecycle that runs the listener until a shutdown signal arrives.
package server
