package vm

import "fmt"

// Token is the operator identifier carried by TOKEN_KIND operands.
type Token int32

const (
	PLUS Token = iota
	MINUS
	STAR
	SLASH
	SLASHSLASH
	PERCENT
	AMP
	PIPE
	CIRCUMFLEX
	LTLT
	GTGT
	TILDE
	EQL
	NEQ
	LT
	LE
	GT
	GE
	IN
	NOT_IN
	NOT

	numTokens
)

var tokenNames = [...]string{
	PLUS:       "PLUS",
	MINUS:      "MINUS",
	STAR:       "STAR",
	SLASH:      "SLASH",
	SLASHSLASH: "SLASHSLASH",
	PERCENT:    "PERCENT",
	AMP:        "AMP",
	PIPE:       "PIPE",
	CIRCUMFLEX: "CIRCUMFLEX",
	LTLT:       "LTLT",
	GTGT:       "GTGT",
	TILDE:      "TILDE",
	EQL:        "EQL",
	NEQ:        "NEQ",
	LT:         "LT",
	LE:         "LE",
	GT:         "GT",
	GE:         "GE",
	IN:         "IN",
	NOT_IN:     "NOT_IN",
	NOT:        "NOT",
}

var tokenSymbols = [...]string{
	PLUS:       "+",
	MINUS:      "-",
	STAR:       "*",
	SLASH:      "/",
	SLASHSLASH: "//",
	PERCENT:    "%",
	AMP:        "&",
	PIPE:       "|",
	CIRCUMFLEX: "^",
	LTLT:       "<<",
	GTGT:       ">>",
	TILDE:      "~",
	EQL:        "==",
	NEQ:        "!=",
	LT:         "<",
	LE:         "<=",
	GT:         ">",
	GE:         ">=",
	IN:         "in",
	NOT_IN:     "not in",
	NOT:        "not",
}

func (t Token) valid() bool { return t >= 0 && t < numTokens }

func (t Token) String() string {
	if t.valid() {
		return tokenNames[t]
	}
	return fmt.Sprintf("Token(%d)", int32(t))
}

// Symbol returns the source spelling of the operator, used in error messages.
func (t Token) Symbol() string {
	if t.valid() {
		return tokenSymbols[t]
	}
	return t.String()
}
