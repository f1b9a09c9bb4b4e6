package notify

import (
	"errors"
	"net"
	"strings"
)

// Diag clasifica un error SMTP.
type Diag struct {
	Code      string // auth|tls|dial|timeout|rate_limited|invalid_recipient|rejected|network|unknown
	Temporary bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Diagnose inspecciona el error (y el texto de la respuesta del servidor).
func Diagnose(err error) Diag {
	if err == nil {
		return Diag{Code: "unknown"}
	}
	s := strings.ToLower(err.Error())
	var ne net.Error
	isNet := errors.As(err, &ne)

	switch {
	case isNet && ne.Timeout(), strings.Contains(s, "timeout"):
		return Diag{Code: "timeout", Temporary: true}
	case containsAny(s, "connection refused", "no such host", "dial tcp"):
		return Diag{Code: "dial", Temporary: true}
	case strings.Contains(s, "x509:"), strings.Contains(s, "tls") && containsAny(s, "handshake", "certificate"):
		return Diag{Code: "tls"}
	case containsAny(s, "5.7.8", "535", "authentication failed", "username and password not accepted"):
		return Diag{Code: "auth"}
	case containsAny(s, "4.7.0", "rate limit", "try again later", "temporarily unavailable", "421", "451"):
		return Diag{Code: "rate_limited", Temporary: true}
	case containsAny(s, "5.1.1", "user unknown", "mailbox not found"):
		return Diag{Code: "invalid_recipient"}
	case containsAny(s, "5.7.1", "message rejected", "dmarc", "spf"):
		return Diag{Code: "rejected"}
	case isNet:
		return Diag{Code: "network", Temporary: true}
	}
	return Diag{Code: "unknown"}
}
