// Package validator statically checks submitted Python code before it is
// allowed anywhere near a sandbox.
package validator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxCodeLength = 100000
	MaxCodeLines  = 5000
)

// Result is the outcome of validating one piece of code.
type Result struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ErrorSummary joins the errors the way they are stored on a failed submission.
func (r Result) ErrorSummary() string {
	return strings.Join(r.Errors, "; ")
}

// Checker is one independent pass over parsed code.
type Checker interface {
	Name() string
	Check(src *Source) (errs, warnings []string)
}

// LengthChecker caps code size. Too many characters is an error; too many
// lines only warns.
type LengthChecker struct {
	MaxLength int
	MaxLines  int
}

func (LengthChecker) Name() string { return "length" }

func (c LengthChecker) Check(src *Source) (errs, warnings []string) {
	if utf8.RuneCountInString(src.Code) > c.MaxLength {
		errs = append(errs, fmt.Sprintf("Code exceeds maximum length of %s characters", groupThousands(c.MaxLength)))
	}
	if lines := strings.Count(src.Code, "\n") + 1; lines > c.MaxLines {
		warnings = append(warnings, fmt.Sprintf("Code has %d lines, which may affect execution time", lines))
	}
	return errs, warnings
}

func groupThousands(n int) string {
	s := fmt.Sprint(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validator runs its checkers in order over one parse of the code.
type Validator struct {
	checkers []Checker
}

// New returns a validator with the standard passes: imports, text patterns,
// calls and attributes, then length.
func New() *Validator {
	return NewWithCheckers(
		ImportChecker{},
		PatternChecker{},
		CallChecker{},
		LengthChecker{MaxLength: MaxCodeLength, MaxLines: MaxCodeLines},
	)
}

// NewWithCheckers builds a validator from an explicit pass list.
func NewWithCheckers(checkers ...Checker) *Validator {
	return &Validator{checkers: checkers}
}

// Validate checks code. It is safe for concurrent use.
func (v *Validator) Validate(code string) Result {
	return v.ValidateContext(context.Background(), code)
}

// ValidateContext is Validate with a context bounding the parse.
func (v *Validator) ValidateContext(ctx context.Context, code string) Result {
	src, syntaxErr, release, err := parseSource(ctx, code)
	defer release()
	if err != nil {
		return Result{IsValid: false, Errors: []string{"Syntax error: " + err.Error() + " at line 1"}, Warnings: []string{}}
	}
	if syntaxErr != "" {
		return Result{IsValid: false, Errors: []string{syntaxErr}, Warnings: []string{}}
	}

	res := Result{Errors: []string{}, Warnings: []string{}}
	for _, c := range v.checkers {
		errs, warnings := c.Check(src)
		res.Errors = append(res.Errors, errs...)
		res.Warnings = append(res.Warnings, warnings...)
	}
	res.IsValid = len(res.Errors) == 0
	return res
}
