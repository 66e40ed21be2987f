package export

import (
	"encoding/json"
	"io"

	"github.com/opensource-finance/harrier/internal/domain"
)

// WriteJSON writes the run report as indented JSON.
func WriteJSON(w io.Writer, report *domain.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
