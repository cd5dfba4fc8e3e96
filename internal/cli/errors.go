package cli

import (
	"fmt"
	"io"

	verrors "github.com/randalmurphal/verity/internal/errors"
)

// PrintError prints an error with its fix hint when it is a VerityError.
// verbose adds the code and cause.
func PrintError(w io.Writer, err error, verbose bool) {
	ve := verrors.AsVerityError(err)
	if ve == nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error: %s\n", ve.UserMessage())
	if ve.Fix != "" {
		fmt.Fprintf(w, "Fix: %s\n", ve.Fix)
	}
	if verbose {
		fmt.Fprintf(w, "\nCode: %s\n", ve.Code)
		if ve.Cause != nil {
			fmt.Fprintf(w, "Cause: %v\n", ve.Cause)
		}
	}
}
