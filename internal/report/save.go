package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rileyhilliard/dockhop/internal/errors"
)

// timestampLayout names saved files dockhop_YYYYMMDD_HHMMSS.
const timestampLayout = "20060102_150405"

// SaveTimestamped writes rep in format f to dir/dockhop_<timestamp>.<ext>,
// creating dir when needed, and returns the file path.
func SaveTimestamped(dir string, rep *Report, f Format, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Can't create output directory %s", dir),
			"Check that the path is writable.")
	}

	path := filepath.Join(dir, fmt.Sprintf("dockhop_%s.%s", now.Format(timestampLayout), f.Extension()))
	return path, SaveFile(path, rep, f)
}

// SaveFile writes rep in format f to path. Table output includes the
// container table.
func SaveFile(path string, rep *Report, f Format) error {
	var buf bytes.Buffer
	if err := Write(&buf, rep, f, Options{Containers: true}); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Can't write report to %s", path),
			"Check that the path is writable.")
	}
	return nil
}
