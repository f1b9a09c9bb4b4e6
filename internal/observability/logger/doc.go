// Package logger provee un logger Zap singleton con scoping por contexto.
//
//   - Global: una instancia atómica instalada con Init() o Replace().
//   - Context scoping: cada pasada (audit, reconcile, verify) o request HTTP
//     lleva su propio logger vía Scope() con campos extra (pass_id, request_id).
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON. Ambos escriben
//     a stderr; stdout queda libre para los reportes JSON de la CLI.
//
// Inicialización (una vez en la CLI):
//
//	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En servicios:
//
//	ctx, log := logger.Scope(ctx, logger.Component("audit"))
//	log.Warn("write failed", logger.MemberID(id), logger.Kind(string(kind)))
package logger
