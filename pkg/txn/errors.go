package txn

import (
	"fmt"

	"github.com/conarylabs/conary/pkg/conaryerr"
)

func cancelledError(phase string) error {
	return conaryerr.New(conaryerr.KindCancelled, fmt.Sprintf("transaction cancelled during %s", phase))
}

func stateError(op string, got State) error {
	return conaryerr.New(conaryerr.KindUsage, fmt.Sprintf("cannot %s transaction in state %s", op, got))
}
