package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/verify"
)

// Exit codes.
const (
	ExitSuccess      = 0 // pasada completa
	ExitFailure      = 1 // quedaron categorías sin reconciliar
	ExitCommandError = 2 // config, conexión, reporte rechazado
)

// ExitError es un error con exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extrae el exit code. Errores sin código son ExitCommandError
// (flags inválidos, config).
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printAudit imprime conteos por categoría y una muestra de ids.
func printAudit(w io.Writer, rep *audit.Report, sample int) {
	fmt.Fprintf(w, "audit %s  token=%s  partial=%t\n", rep.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"), short(rep.Token), rep.Partial)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tCOUNT\tSAMPLE")
	counts := rep.Counts()
	for _, c := range audit.Categories {
		ids := rep.IDs(c)
		if len(ids) > sample {
			ids = append(ids[:sample:sample], "...")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", c, counts[c], strings.Join(ids, ","))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "total findings: %d\n", rep.Total())
}

// printVerify imprime el antes/después y las fallas de muestra por categoría.
func printVerify(w io.Writer, rep *verify.Report) {
	mode := "applied"
	if rep.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "pass %s (%s)  policy=%s  writes=%d\n", rep.PassID, mode, rep.Policy.String(), rep.Writes)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tBEFORE\tAFTER\tACTED\tFAILED\tRESULT")
	for _, c := range rep.Categories {
		res := "ok"
		if !c.Pass {
			res = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%d\t%s\n", c.Category, c.Before, c.After, c.Acted, c.Failed, res)
	}
	_ = tw.Flush()

	for _, c := range rep.Failing() {
		for _, f := range c.Failures {
			fmt.Fprintf(w, "  %s: %s %s [%s] %s\n", c.Category, f.Action, f.RecordID, f.Kind, f.Detail)
		}
	}
	fmt.Fprintf(w, "findings: %d -> %d  fully reconciled: %t\n", rep.TotalFindingsBefore, rep.TotalFindingsAfter, rep.FullyReconciled)
}

func printPerson(w io.Writer, p *audit.Person) {
	if p.Identity != nil {
		fmt.Fprintf(w, "identity  %s  %s  confirmed=%t\n", p.Identity.ID, p.Identity.Email, p.Identity.EmailConfirmed)
	} else {
		fmt.Fprintln(w, "identity  -")
	}
	if p.Profile != nil {
		fmt.Fprintf(w, "profile   %s  %s  %q\n", p.Profile.ID, p.Profile.Email, p.Profile.FullName)
	} else {
		fmt.Fprintln(w, "profile   -")
	}
	members := append(p.Members[:0:0], p.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	for _, m := range members {
		linked := "-"
		if m.LinkedIdentityID != nil {
			linked = *m.LinkedIdentityID
		}
		fmt.Fprintf(w, "member    %s  %s  %q  linked=%s  active=%t\n", m.ID, m.Email, m.FullName, linked, m.IsActive)
	}
	if len(members) == 0 {
		fmt.Fprintln(w, "member    -")
	}
}

func short(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}
