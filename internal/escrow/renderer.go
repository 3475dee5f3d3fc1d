package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TextRenderer produces a plain deliverable document from the finalize
// payload. Richer generation (AI drafting, PDF layout) plugs in behind the
// Renderer interface.
type TextRenderer struct{}

func (TextRenderer) Render(_ context.Context, payload string) ([]byte, error) {
	body := strings.TrimSpace(payload)
	if body == "" {
		return nil, fmt.Errorf("empty payload")
	}
	doc := fmt.Sprintf("Generated %s\n\n%s\n", time.Now().UTC().Format(time.RFC3339), body)
	return []byte(doc), nil
}
