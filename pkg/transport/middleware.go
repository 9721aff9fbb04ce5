package transport

// Middleware decorates a RunExecutor. The HTTP server wraps every run in
// recovery, request ID, logging and serialization middleware; the MCP
// server uses recovery and serialization.
type Middleware func(RunExecutor) RunExecutor

// Chain composes middleware so that Chain(a, b)(x) is a(b(x)): the first
// middleware sees the run first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next RunExecutor) RunExecutor {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
