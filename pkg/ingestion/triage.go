package ingestion

import "strings"

// isHeavy triages a candidate: audio/video always heavy, any file
// over 10MB heavy, PDFs over 2MB heavy.
func isHeavy(ext string, sizeBytes int64) bool {
	switch strings.ToLower(ext) {
	case ".mp3", ".m4a", ".mp4":
		return true
	}
	if sizeBytes > HeavyFileSizeBytes {
		return true
	}
	if strings.ToLower(ext) == ".pdf" && sizeBytes > HeavyPDFSizeBytes {
		return true
	}
	return false
}
