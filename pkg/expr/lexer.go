package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokNumber
	TokString
	TokIdent
	TokKeyword
	TokOp
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokComma
	TokAssign
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "end of input"
	case TokNumber:
		return "number"
	case TokString:
		return "string"
	case TokIdent:
		return "identifier"
	case TokKeyword:
		return "keyword"
	case TokOp:
		return "operator"
	case TokLParen:
		return "'('"
	case TokRParen:
		return "')'"
	case TokLBracket:
		return "'['"
	case TokRBracket:
		return "']'"
	case TokComma:
		return "','"
	case TokAssign:
		return "'='"
	}
	return "unknown"
}

// Token is a single lexeme with its byte offset in the source.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true,
	"true": true, "false": true, "True": true, "False": true,
	"null": true, "None": true,
}

// Lex splits src into tokens. The final token is always TokEOF.
func Lex(src string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w
		case r == '\'' || r == '"':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokString, Text: s, Pos: i})
			i += n
		case isDigit(r) || (r == '.' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			n := lexNumber(src[i:])
			toks = append(toks, Token{Kind: TokNumber, Text: src[i : i+n], Pos: i})
			i += n
		case r == '_' || unicode.IsLetter(r):
			j := i + w
			for j < len(src) {
				r2, w2 := utf8.DecodeRuneInString(src[j:])
				if r2 != '_' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += w2
			}
			word := src[i:j]
			kind := TokIdent
			if keywords[word] {
				kind = TokKeyword
			}
			toks = append(toks, Token{Kind: kind, Text: word, Pos: i})
			i = j
		default:
			tok, n, err := lexPunct(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += n
		}
	}
	toks = append(toks, Token{Kind: TokEOF, Pos: len(src)})
	return toks, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func lexNumber(s string) int {
	n := 0
	for n < len(s) && (isDigit(rune(s[n])) || s[n] == '.') {
		n++
	}
	if n < len(s) && (s[n] == 'e' || s[n] == 'E') {
		m := n + 1
		if m < len(s) && (s[m] == '+' || s[m] == '-') {
			m++
		}
		if m < len(s) && isDigit(rune(s[m])) {
			for m < len(s) && isDigit(rune(s[m])) {
				m++
			}
			n = m
		}
	}
	return n
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1 - start, nil
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, syntaxErrorf(start, "unterminated string literal")
}

func lexPunct(src string, i int) (Token, int, error) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		return Token{Kind: TokOp, Text: two, Pos: i}, 2, nil
	case "&&", "||":
		return Token{}, 0, syntaxErrorf(i, "operator %q is not supported, use 'and'/'or'", two)
	}
	switch c := src[i]; c {
	case '+', '-', '*', '/', '%', '<', '>':
		return Token{Kind: TokOp, Text: string(c), Pos: i}, 1, nil
	case '=':
		return Token{Kind: TokAssign, Text: "=", Pos: i}, 1, nil
	case '(':
		return Token{Kind: TokLParen, Text: "(", Pos: i}, 1, nil
	case ')':
		return Token{Kind: TokRParen, Text: ")", Pos: i}, 1, nil
	case '[':
		return Token{Kind: TokLBracket, Text: "[", Pos: i}, 1, nil
	case ']':
		return Token{Kind: TokRBracket, Text: "]", Pos: i}, 1, nil
	case ',':
		return Token{Kind: TokComma, Text: ",", Pos: i}, 1, nil
	}
	r, _ := utf8.DecodeRuneInString(src[i:])
	return Token{}, 0, syntaxErrorf(i, "unexpected character %q", r)
}

func syntaxErrorf(pos int, format string, args ...any) *EvalError {
	return &EvalError{Kind: KindSyntax, Msg: fmt.Sprintf("at offset %d: ", pos) + fmt.Sprintf(format, args...)}
}
