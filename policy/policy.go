// Package policy decides who may overwrite an existing record. The
// active policy is chosen by configuration: "open" accepts any signed
// transaction, "creator" restricts overwrites to the account's creator,
// and "expr:<program>" evaluates an expression over the signer and
// creator addresses.
package policy

import (
	"strings"

	"github.com/chain/txvm/errors"
	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrDenied is the root of every policy rejection.
	ErrDenied = errors.New("overwrite denied by access policy")

	// ErrBadSpec means a policy configuration string was unusable.
	ErrBadSpec = errors.New("unrecognized access policy")
)

// Policy decides whether signer may overwrite a record created by
// creator. Implementations must be safe for concurrent use.
type Policy interface {
	Name() string
	AllowOverwrite(signer, creator string) error
}

// Open permits any overwrite that arrived in a well-formed signed
// transaction. This mirrors deployments that leave update authority
// unrestricted.
type Open struct{}

func (Open) Name() string { return "open" }

func (Open) AllowOverwrite(signer, creator string) error { return nil }

// CreatorOnly permits overwrites only by the identity that created the
// record account.
type CreatorOnly struct{}

func (CreatorOnly) Name() string { return "creator" }

func (CreatorOnly) AllowOverwrite(signer, creator string) error {
	if signer == "" {
		return errors.Wrap(ErrDenied, "transaction has no signer")
	}
	if signer != creator {
		return errors.Wrapf(ErrDenied, "signer %s is not creator %s", signer, creator)
	}
	return nil
}

// Expr evaluates a compiled expression with the variables signer and
// creator in scope. The expression must produce a bool; evaluation
// failures deny the overwrite.
type Expr struct {
	src  string
	prog *vm.Program
}

func NewExpr(src string) (*Expr, error) {
	prog, err := exprlang.Compile(src, exprlang.Env(envOf("", "")), exprlang.AsBool())
	if err != nil {
		return nil, errors.Wrapf(ErrBadSpec, "compiling policy expression %q: %s", src, err)
	}
	return &Expr{src: src, prog: prog}, nil
}

func (p *Expr) Name() string { return "expr" }

func (p *Expr) AllowOverwrite(signer, creator string) error {
	out, err := exprlang.Run(p.prog, envOf(signer, creator))
	if err != nil {
		return errors.Wrapf(ErrDenied, "evaluating policy expression: %s", err)
	}
	if ok, _ := out.(bool); !ok {
		return errors.Wrapf(ErrDenied, "signer %s rejected by policy expression", signer)
	}
	return nil
}

func envOf(signer, creator string) map[string]interface{} {
	return map[string]interface{}{
		"signer":  signer,
		"creator": creator,
	}
}

// Parse selects a policy from its configuration form. The empty string
// selects Open.
func Parse(spec string) (Policy, error) {
	switch {
	case spec == "" || spec == "open":
		return Open{}, nil
	case spec == "creator":
		return CreatorOnly{}, nil
	case strings.HasPrefix(spec, "expr:"):
		return NewExpr(strings.TrimPrefix(spec, "expr:"))
	}
	return nil, errors.Wrapf(ErrBadSpec, "%q", spec)
}
