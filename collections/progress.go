package collections

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// ShowProgress toggles the progress bars drawn on stderr during batch
// operations.
var ShowProgress = true

func newProgress(n int, description string) *progressbar.ProgressBar {
	var w io.Writer = os.Stderr
	if !ShowProgress {
		w = io.Discard
	}

	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(ShowProgress),
		progressbar.OptionOnCompletion(func() {
			if ShowProgress {
				io.WriteString(w, "\n")
			}
		}),
	)
}
