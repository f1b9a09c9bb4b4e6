package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// client habla con PostgREST (/rest/v1) y con el admin API de usuarios (/auth/v1/admin).
type client struct {
	baseURL string
	http    *http.Client
	tokens  *tokenSource
}

// tokenSource entrega el bearer service-role: una clave fija o un JWT HS256
// emitido localmente a partir del secreto del proyecto.
type tokenSource struct {
	static string
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached string
	exp    time.Time
}

func (s *tokenSource) Token() (string, error) {
	if s.static != "" {
		return s.static, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(time.Minute).Before(s.exp) {
		return s.cached, nil
	}
	exp := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "service_role",
		"iss":  "rebano",
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("rest: sign service token: %w", err)
	}
	s.cached, s.exp = signed, exp
	return signed, nil
}

// do ejecuta el request y decodifica la respuesta JSON en out (si no es nil).
// Retorna los headers de la respuesta.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, out any) (http.Header, error) {
	u := strings.TrimRight(c.baseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("rest: encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", tok)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, mapTransportErr(method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode/100 != 2 {
		return resp.Header, statusErr(method, path, resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.Header, fmt.Errorf("rest: decode %s %s: %w", method, path, err)
		}
	}
	return resp.Header, nil
}

// statusErr clasifica la respuesta: 5xx/429/408 transitorios, 404 not found,
// 409 conflicto, resto de 4xx rechazo terminal.
func statusErr(method, path string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var pgrst struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(body, &pgrst) == nil {
		if pgrst.Message != "" {
			msg = pgrst.Message
		} else if pgrst.Msg != "" {
			msg = pgrst.Msg
		}
		if pgrst.Code != "" {
			msg += " (" + pgrst.Code + ")"
		}
	}
	var kind error
	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		kind = repository.ErrUnavailable
	case status == http.StatusNotFound:
		kind = repository.ErrNotFound
	case status == http.StatusConflict:
		kind = repository.ErrConflict
	default:
		kind = repository.ErrInvalidInput
	}
	return fmt.Errorf("rest: %s %s: status %d: %w: %s", method, path, status, kind, msg)
}

func mapTransportErr(method, path string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rest: %s %s: %w: %v", method, path, repository.ErrUnavailable, err)
	}
	return fmt.Errorf("rest: %s %s: %w", method, path, err)
}

// filters traduce un predicado a la sintaxis de filtros de PostgREST.
// IsNull matchea null o '' como en pg y memory; esas condiciones van juntas
// en un único and=(or(f.is.null,f.eq.),...).
func filters(p repository.Predicate, allowed map[string]bool) (url.Values, error) {
	if err := p.Validate(allowed); err != nil {
		return nil, err
	}
	q := url.Values{}
	var nullish []string
	for _, c := range p {
		var expr string
		switch c.Op {
		case repository.OpEq:
			expr = "eq." + c.Values[0]
		case repository.OpIsNull:
			tree := fmt.Sprintf("or(%s.is.null,%s.eq.)", c.Field, c.Field)
			if c.Not {
				tree = "not." + tree
			}
			nullish = append(nullish, tree)
			continue
		case repository.OpILike:
			expr = "ilike." + c.Values[0]
		case repository.OpIn:
			quoted := make([]string, len(c.Values))
			for i, v := range c.Values {
				quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
			}
			expr = "in.(" + strings.Join(quoted, ",") + ")"
		}
		if c.Not {
			expr = "not." + expr
		}
		q.Add(c.Field, expr)
	}
	if len(nullish) > 0 {
		q.Set("and", "("+strings.Join(nullish, ",")+")")
	}
	return q, nil
}
