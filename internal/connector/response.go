package connector

import (
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	ncerr "ptun/internal/errors"
)

// statusLen is the length of "HTTP/1.x ddd".
const statusLen = 12

// scanState is the position of a responseScanner within a CONNECT
// response.
type scanState uint8

const (
	stateStarted  scanState = iota // nothing read yet
	stateHeaderOk                  // inside the status line or a header line
	stateFirstCr                   // CR ending a line
	stateFirstLf                   // LF ending a line
	stateSecondCr                  // CR of the blank line
	stateDone                      // blank line consumed
)

func (s scanState) String() string {
	switch s {
	case stateStarted:
		return "started"
	case stateHeaderOk:
		return "header-ok"
	case stateFirstCr:
		return "first-cr"
	case stateFirstLf:
		return "first-lf"
	case stateSecondCr:
		return "second-cr"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// next returns the state after consuming b.
func (s scanState) next(b byte) (scanState, error) {
	switch {
	case s == stateHeaderOk && b == '\r':
		return stateFirstCr, nil
	case s == stateHeaderOk:
		return stateHeaderOk, nil
	case s == stateFirstCr && b == '\n':
		return stateFirstLf, nil
	case s == stateFirstCr:
		return s, ncerr.ErrEndOfLine
	case s == stateFirstLf && b == '\r':
		return stateSecondCr, nil
	case s == stateFirstLf:
		return stateHeaderOk, nil
	case s == stateSecondCr && b == '\n':
		return stateDone, nil
	case s == stateSecondCr:
		return s, ncerr.ErrEndOfLine
	default:
		return s, fmt.Errorf("%w: state %s on byte %q", ncerr.ErrHeader, s, b)
	}
}

// responseScanner consumes a CONNECT response from r without reading
// past the blank line that ends it.  A scanner that failed keeps the
// state it failed in.
type responseScanner struct {
	r     io.Reader
	state scanState
}

func newResponseScanner(r io.Reader) *responseScanner {
	return &responseScanner{r: r, state: stateStarted}
}

// run reads until the response headers are complete.  It returns nil
// immediately once the scanner is done.
func (sc *responseScanner) run() error {
	if sc.state == stateDone {
		return nil
	}
	if sc.state == stateStarted {
		if err := sc.status(); err != nil {
			return err
		}
		sc.state = stateHeaderOk
	}

	var b [1]byte
	for sc.state != stateDone {
		if _, err := io.ReadFull(sc.r, b[:]); err != nil {
			return err
		}
		next, err := sc.state.next(b[0])
		if err != nil {
			return err
		}
		sc.state = next
	}
	return nil
}

// status reads the fixed-width status prefix and checks for 2xx.
func (sc *responseScanner) status() error {
	var buf [statusLen]byte
	if _, err := io.ReadFull(sc.r, buf[:]); err != nil {
		return err
	}
	if !utf8.Valid(buf[:]) {
		return ncerr.ErrStatusNotText
	}
	code, err := strconv.ParseUint(string(buf[9:statusLen]), 10, 16)
	if err != nil {
		return ncerr.ErrStatusNotNumber
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w (%d)", ncerr.ErrStatusNotSuccess, code)
	}
	return nil
}
