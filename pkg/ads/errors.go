package ads

import "errors"

var (
	ErrInvalidRegistry = errors.New("ads: invalid placement registry")
	ErrInvalidPolicy   = errors.New("ads: invalid display policy")
)
