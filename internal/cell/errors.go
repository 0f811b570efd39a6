package cell

import (
	"errors"
	"fmt"
)

// ErrInvalidBounds is returned for sheet dimensions that cannot be represented.
var ErrInvalidBounds = errors.New("invalid sheet bounds")

// RangeError reports an address outside a sheet's fixed dimensions.
type RangeError struct {
	Addr   Address
	Bounds Bounds
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("address %s outside sheet bounds %dx%d", e.Addr, e.Bounds.Rows, e.Bounds.Cols)
}
