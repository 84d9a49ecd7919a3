package notify

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"proofwatch/internal/errs"
)

// Templates holds the overridable pieces of the notification text.
type Templates struct {
	SuccessHeader string `toml:"success_header"`
	FailureHeader string `toml:"failure_header"`
	Banner        string `toml:"banner"`
}

func DefaultTemplates() Templates {
	return Templates{
		SuccessHeader: "✅ *SUCCESSFUL PROOF*",
		FailureHeader: "❌ *FAILED PROOF*",
	}
}

// LoadTemplates reads a TOML override file. A missing path keeps the
// defaults; fields left empty in the file keep their defaults too.
func LoadTemplates(path string) (Templates, error) {
	tpl := DefaultTemplates()

	path = strings.TrimSpace(path)
	if path == "" {
		return tpl, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tpl, nil
		}
		return Templates{}, errs.Wrapf(err, "read templates file %q", path)
	}

	var overrides Templates
	if err := toml.Unmarshal(raw, &overrides); err != nil {
		return Templates{}, errs.Wrap(err, "parse templates file")
	}

	if strings.TrimSpace(overrides.SuccessHeader) != "" {
		tpl.SuccessHeader = overrides.SuccessHeader
	}
	if strings.TrimSpace(overrides.FailureHeader) != "" {
		tpl.FailureHeader = overrides.FailureHeader
	}
	if strings.TrimSpace(overrides.Banner) != "" {
		tpl.Banner = overrides.Banner
	}
	return tpl, nil
}

type Renderer struct {
	tpl Templates
}

func NewRenderer(tpl Templates) *Renderer {
	return &Renderer{tpl: tpl}
}

// Render produces the outgoing Markdown message for one event.
func (r *Renderer) Render(ev Event) string {
	header := r.tpl.FailureHeader
	if ev.Result {
		header = r.tpl.SuccessHeader
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	if r.tpl.Banner != "" {
		b.WriteString("\n")
		b.WriteString(r.tpl.Banner)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "👤 Prover: `%s`\n", ev.Prover)
	fmt.Fprintf(&b, "🕐 Time: %s\n", time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "📦 Block: %d\n", ev.BlockNumber)
	fmt.Fprintf(&b, "🔗 Result: %t", ev.Result)
	return b.String()
}
