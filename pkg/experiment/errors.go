package experiment

import "errors"

var ErrInvalidRegistry = errors.New("experiment: invalid experiment registry")
