package domain

import (
	"fmt"
	"strings"
)

// IntegrityError lists catalog references that do not resolve. It is a
// configuration fault: the catalog must be fixed before it is used.
type IntegrityError struct {
	Problems []string
}

func (e *IntegrityError) Error() string {
	if len(e.Problems) == 1 {
		return "catalog integrity: " + e.Problems[0]
	}
	return fmt.Sprintf("catalog integrity: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}
