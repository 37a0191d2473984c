package budget

import "errors"

// ErrContextTooLarge indicates compression could not bring a prompt under
// the effective limit. The graph driver routes it to the reflector, or to
// the reporter when the reflector itself overflows.
var ErrContextTooLarge = errors.New("context too large for model budget")
