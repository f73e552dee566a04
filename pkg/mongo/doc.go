// Package mongo connects to MongoDB with the v2 driver.
//
//	db, err := mongo.ConnectDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
//
// Connect retries until the server answers a ping; Healthcheck wraps the same
// ping for readiness endpoints. Settings come from MONGODB_* environment
// variables; see Config.
package mongo
