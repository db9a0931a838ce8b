package reel

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var videoExtensions = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
	".mkv": "video/x-matroska",
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
}

const (
	contentTypeWAV = "audio/wav"
	contentTypeZip = "application/zip"
)

// VideoExtensions returns the accepted video extensions, sorted.
func VideoExtensions() []string {
	return sortedKeys(videoExtensions)
}

// ReferenceExtensions returns the accepted reference extensions, sorted.
// Video files are accepted too and have their audio extracted.
func ReferenceExtensions() []string {
	return sortedKeys(audioExtensions)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func extOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func isVideoExt(ext string) bool {
	_, ok := videoExtensions[ext]
	return ok
}

// saveUpload streams r into a new file at path, failing once more than max
// bytes have been read.
func saveUpload(path string, r io.Reader, max int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, max+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return n, copyErr
	case closeErr != nil:
		return n, closeErr
	case n > max:
		return n, ErrTooLarge
	case n == 0:
		return n, ErrEmptyUpload
	}
	return n, nil
}

// safeName reduces a client filename to a base name made of portable
// characters, for use in Content-Disposition only.
func safeName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "video"
	}
	return name
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func videoDownloadName(filename string) string {
	return "reel_with_music_" + safeName(filename)
}

func audioDownloadName(filename string) string {
	return "reel_music_" + stem(safeName(filename)) + ".wav"
}

func packageDownloadName(filename string) string {
	return "reel_package_" + stem(safeName(filename)) + ".zip"
}

type zipEntry struct {
	Name string
	Path string
}

// writeZip packages entries into dst. Media is already compressed, so
// entries are stored.
func writeZip(dst string, entries []zipEntry) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	for _, e := range entries {
		if err := addZipEntry(zw, e); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func addZipEntry(zw *zip.Writer, e zipEntry) error {
	src, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Store})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %s: %w", e.Name, err)
	}
	return nil
}
