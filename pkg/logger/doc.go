// Package logger builds the structured slog loggers used across the billing daemon.
//
// New creates a *slog.Logger configured by Option functions: output format (text or
// json), minimum level, static attributes, and ContextExtractor callbacks that inject
// request-scoped values (for example the chi request id of a webhook delivery) into
// every record logged with a context.
//
// Attribute helpers in attr.go keep key names consistent between packages:
//
//	log.InfoContext(ctx, "order recorded",
//	    logger.Tenant(tenant.Key()),
//	    logger.OrderID(order.ID),
//	    logger.PlanID(state.PlanID),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be passed
// unconditionally.
//
// WithEnvironment selects per-environment defaults: debug-level text output for
// development, info-level JSON for production and staging.
package logger
