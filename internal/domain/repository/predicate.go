package repository

import (
	"fmt"
	"regexp"
	"strings"
)

// Nombres de campo usados en predicados. Coinciden con las columnas de las tablas.
const (
	FieldID                 = "id"
	FieldEmail              = "email"
	FieldFullName           = "full_name"
	FieldRole               = "role"
	FieldLinkedIdentityID   = "linked_identity_id"
	FieldCategory           = "category"
	FieldIsActive           = "is_active"
	FieldAssignedToMemberID = "assigned_to_member_id"
	FieldPhone              = "phone"
	FieldAddress            = "address"
	FieldCity               = "city"
)

// ProfileFields son los campos filtrables de profiles.
var ProfileFields = map[string]bool{
	FieldID: true, FieldEmail: true, FieldFullName: true, FieldRole: true,
}

// MemberFields son los campos filtrables de members.
var MemberFields = map[string]bool{
	FieldID: true, FieldEmail: true, FieldFullName: true, FieldLinkedIdentityID: true,
	FieldCategory: true, FieldIsActive: true, FieldAssignedToMemberID: true,
	FieldPhone: true, FieldAddress: true, FieldCity: true,
}

// IdentityFields son los campos filtrables de identities.
var IdentityFields = map[string]bool{
	FieldID: true, FieldEmail: true,
}

// Op es el operador de una condición.
type Op string

const (
	OpEq     Op = "eq"
	OpIsNull Op = "is_null"
	OpIn     Op = "in"
	OpILike  Op = "ilike" // LIKE case-insensitive: % y _ como comodines
)

// Cond es una condición simple sobre un campo.
type Cond struct {
	Field  string
	Op     Op
	Values []string
	Not    bool
}

func (c Cond) String() string {
	s := fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Values)
	if c.Not {
		return "not(" + s + ")"
	}
	return s
}

// Predicate es una conjunción (AND) de condiciones.
type Predicate []Cond

// Eq compara igualdad exacta.
func Eq(field, value string) Cond { return Cond{Field: field, Op: OpEq, Values: []string{value}} }

// IsNull matchea campos nulos (o vacíos para strings).
func IsNull(field string) Cond { return Cond{Field: field, Op: OpIsNull} }

// In matchea cualquiera de los valores.
func In(field string, values ...string) Cond { return Cond{Field: field, Op: OpIn, Values: values} }

// ILike matchea un patrón LIKE case-insensitive.
func ILike(field, pattern string) Cond {
	return Cond{Field: field, Op: OpILike, Values: []string{pattern}}
}

// Not niega la condición.
func Not(c Cond) Cond {
	c.Not = !c.Not
	return c
}

// Where arma un predicado con las condiciones dadas.
func Where(conds ...Cond) Predicate { return Predicate(conds) }

// Validate verifica que todos los campos estén permitidos y que los operadores
// tengan la cantidad de valores correcta.
func (p Predicate) Validate(allowed map[string]bool) error {
	for _, c := range p {
		if !allowed[c.Field] {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidInput, c.Field)
		}
		switch c.Op {
		case OpEq, OpILike:
			if len(c.Values) != 1 {
				return fmt.Errorf("%w: %s expects one value", ErrInvalidInput, c.Op)
			}
		case OpIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("%w: in expects at least one value", ErrInvalidInput)
			}
		case OpIsNull:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidInput, c.Op)
		}
	}
	return nil
}

// Query es un pedido de listado paginado. Limit 0 significa sin límite.
// La paginación es siempre explícita: el caller pide cada página.
type Query struct {
	Where  Predicate
	Limit  int
	Offset int
}

// Match evalúa el predicado contra un registro. get retorna el valor de un
// campo y si está presente (no nulo).
func (p Predicate) Match(get func(field string) (string, bool)) bool {
	for _, c := range p {
		if c.match(get) == c.Not {
			return false
		}
	}
	return true
}

func (c Cond) match(get func(field string) (string, bool)) bool {
	v, ok := get(c.Field)
	switch c.Op {
	case OpIsNull:
		return !ok || v == ""
	case OpEq:
		return ok && v == c.Values[0]
	case OpIn:
		if !ok {
			return false
		}
		for _, want := range c.Values {
			if v == want {
				return true
			}
		}
		return false
	case OpILike:
		return ok && LikeMatch(c.Values[0], v)
	}
	return false
}

// LikeMatch implementa ILIKE: % = cualquier secuencia, _ = un caracter,
// \ escapa el siguiente caracter.
func LikeMatch(pattern, s string) bool {
	var b strings.Builder
	b.WriteString("(?is)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapa los comodines para que un patrón ILIKE compare literal.
func EscapeLike(s string) string { return likeEscaper.Replace(s) }
