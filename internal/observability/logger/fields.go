package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// HTTP
// =================================================================================

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration crea un campo para la duración de un request o pasada.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// =================================================================================
// DOMINIO
// =================================================================================

// PassID identifica una pasada de reconciliación o verificación.
func PassID(v string) zap.Field { return zap.String("pass_id", v) }

func IdentityID(v string) zap.Field { return zap.String("identity_id", v) }

func ProfileID(v string) zap.Field { return zap.String("profile_id", v) }

func MemberID(v string) zap.Field { return zap.String("member_id", v) }

// Category es la categoría de hallazgo (identitiesWithoutProfile, ...).
func Category(v string) zap.Field { return zap.String("category", v) }

// Action es la acción correctiva (create_profile, delete_member, ...).
func Action(v string) zap.Field { return zap.String("action", v) }

// Kind es la clase de error de un resultado (transient, rejected, ...).
func Kind(v string) zap.Field { return zap.String("kind", v) }

func Attempt(v int) zap.Field { return zap.Int("attempt", v) }

// Token es el token del snapshot auditado (abreviado).
func Token(v string) zap.Field {
	if len(v) > 12 {
		v = v[:12]
	}
	return zap.String("token", v)
}

// Email crea un campo para el email (usar con cuidado en prod).
func Email(v string) zap.Field { return zap.String("email", v) }

// =================================================================================
// SISTEMA
// =================================================================================

func Component(v string) zap.Field { return zap.String("component", v) }

func Op(v string) zap.Field { return zap.String("op", v) }

func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field { return zap.Int("count", v) }

func Key(v string) zap.Field { return zap.String("key", v) }

func String(key, v string) zap.Field { return zap.String(key, v) }

func Int(key string, v int) zap.Field { return zap.Int(key, v) }

func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }
