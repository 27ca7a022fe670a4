package limits

import "errors"

var ErrInvalidTable = errors.New("limits: invalid limit table")
