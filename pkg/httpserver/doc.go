// Package httpserver runs an http.Handler with sane timeouts and graceful,
// context-driven shutdown, and provides liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Run returns after ctx is cancelled and in-flight requests finish, or when
// the shutdown timeout elapses. Bind failures wrap ErrListen; a slow drain
// wraps ErrShutdown.
package httpserver
