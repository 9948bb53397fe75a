package rendercv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Renderer drives the external rendercv binary to turn a YAML description
// into a PDF.
type Renderer struct {
	binary  string
	timeout time.Duration
}

func NewRenderer(binary string, timeout time.Duration) *Renderer {
	return &Renderer{binary: binary, timeout: timeout}
}

// Render writes the YAML into workDir, invokes the renderer, and returns the
// path of the produced PDF. The subprocess contract is not trusted: a zero
// exit status alone does not count as success, the output artifact must also
// exist and be non-empty.
func (r *Renderer) Render(ctx context.Context, yamlContent, workDir string) (string, error) {
	yamlPath := filepath.Join(workDir, "resume.yaml")
	pdfPath := filepath.Join(workDir, "resume.pdf")

	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0o600); err != nil {
		return "", fmt.Errorf("write rendercv input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, "render", yamlPath, "--pdf-path", pdfPath)
	cmd.Dir = workDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("rendercv timed out after %s", r.timeout)
		}
		return "", fmt.Errorf("rendercv failed: %w: %s", err, truncate(output, 512))
	}

	info, err := os.Stat(pdfPath)
	if err != nil {
		return "", fmt.Errorf("rendercv exited cleanly but produced no PDF: %s", truncate(output, 512))
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("rendercv produced an empty PDF")
	}

	return pdfPath, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
