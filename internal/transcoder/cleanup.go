package transcoder

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Cleanup removes every entry directly inside outputDir and returns how many
// were removed. Failures are logged and skipped so the call always completes.
func Cleanup(logger *slog.Logger, outputDir string) int {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		logger.Error("failed to read output directory",
			slog.String("output_dir", outputDir),
			slog.String("error", err.Error()),
		)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(outputDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Error("failed to remove output entry",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	logger.Info("output directory cleaned",
		slog.String("output_dir", outputDir),
		slog.Int("removed", removed),
		slog.Int("failed", len(entries)-removed),
	)
	return removed
}
