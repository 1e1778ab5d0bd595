// Package fileinfo holds the metadata tuple every other component reads.
package fileinfo

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// FileMeta describes one enumerated file.
type FileMeta struct {
	Path     string    `json:"path"`     // absolute
	RelPath  string    `json:"rel_path"` // relative to the scanned directory
	Name     string    `json:"name"`
	Ext      string    `json:"ext"` // with leading dot, as found
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// New builds a FileMeta for path. Created falls back to modified when zero.
func New(path, relPath string, size int64, created, modified time.Time) FileMeta {
	name := filepath.Base(path)
	if created.IsZero() {
		created = modified
	}
	return FileMeta{
		Path:     path,
		RelPath:  relPath,
		Name:     name,
		Ext:      filepath.Ext(name),
		Size:     size,
		Created:  created,
		Modified: modified,
	}
}

// Stem returns the name without its final extension.
func (m FileMeta) Stem() string {
	return strings.TrimSuffix(m.Name, m.Ext)
}

// MIMEType returns the MIME type guessed from the extension, without parameters.
func (m FileMeta) MIMEType() string {
	return MIMEType(m.Ext)
}

// Category returns the coarse file type used by [type] template references.
func (m FileMeta) Category() string {
	return Category(m.Ext)
}

// Categories.
const (
	CategoryImages        = "Images"
	CategoryTextFiles     = "TextFiles"
	CategoryDocuments     = "Documents"
	CategoryArchives      = "Archives"
	CategoryApplications  = "Applications"
	CategoryVideos        = "Videos"
	CategoryAudio         = "Audio"
	CategorySpreadsheets  = "Spreadsheets"
	CategoryPresentations = "Presentations"
	CategoryOther         = "Other"
)

// builtinTypes pins common extensions so results do not depend on the host's mime tables.
var builtinTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".svg":  "image/svg+xml",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".html": "text/html",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".7z":   "application/x-7z-compressed",
	".rar":  "application/vnd.rar",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
}

// MIMEType guesses a MIME type from ext ("pdf" or ".pdf"). Empty when unknown.
func MIMEType(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	typ, ok := builtinTypes[ext]
	if !ok {
		typ = mime.TypeByExtension(ext)
	}
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = typ[:i]
	}
	return strings.TrimSpace(typ)
}

// Category maps an extension to a coarse category, by MIME type first and
// then by a few well-known extensions.
func Category(ext string) string {
	typ := MIMEType(ext)
	if typ != "" {
		major, _, _ := strings.Cut(typ, "/")
		switch major {
		case "image":
			return CategoryImages
		case "video":
			return CategoryVideos
		case "audio":
			return CategoryAudio
		case "application":
			switch {
			case strings.Contains(typ, "pdf"),
				strings.Contains(typ, "msword"),
				strings.Contains(typ, "officedocument.wordprocessing"):
				return CategoryDocuments
			case strings.Contains(typ, "zip"),
				strings.Contains(typ, "tar"),
				strings.Contains(typ, "rar"),
				strings.Contains(typ, "7z"):
				return CategoryArchives
			case strings.Contains(typ, "spreadsheet"), strings.Contains(typ, "excel"):
				return CategorySpreadsheets
			case strings.Contains(typ, "presentation"), strings.Contains(typ, "powerpoint"):
				return CategoryPresentations
			}
			return CategoryApplications
		case "text":
			if typ == "text/csv" {
				return CategorySpreadsheets
			}
			return CategoryTextFiles
		}
	}

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "odt", "rtf":
		return CategoryDocuments
	case "xls", "xlsx", "ods":
		return CategorySpreadsheets
	case "ppt", "pptx", "odp":
		return CategoryPresentations
	}
	return CategoryOther
}

// Markers embedded in the names of files chrono itself creates next to a destination.
const (
	TempMarker   = ".chrono-tmp-"
	BackupMarker = ".chrono-bak-"
)

// IsInternal reports whether name is a temp or backup file written by chrono.
func IsInternal(name string) bool {
	return strings.Contains(name, TempMarker) || strings.Contains(name, BackupMarker)
}
