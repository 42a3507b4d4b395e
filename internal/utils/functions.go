package utils

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FixURL defaults a scheme-less URL to https.
func FixURL(link string) string {
	if !strings.HasPrefix(link, "https://") && !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "s3://") {
		link = "https://" + link
	}
	return link
}

// BuildDataURL turns a bare file id into a data endpoint URL. Anything that
// already looks like a URL is returned untouched.
func BuildDataURL(server, idOrURL string) string {
	if strings.Contains(idOrURL, "/") || strings.Contains(idOrURL, "://") {
		return idOrURL
	}
	return strings.TrimRight(server, "/") + "/data/" + idOrURL
}

func FileIDFromURL(link string) string {
	parts := strings.Split(strings.TrimRight(link, "/"), "/")
	return parts[len(parts)-1]
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// FileNameFromDisposition extracts a safe file name from a Content-Disposition
// header value, or returns "".
func FileNameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return safeFileName(fn)
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return safeFileName(unescaped)
	}
	return ""
}

// safeFileName reduces name to a single path element, or "" when nothing
// usable is left.
func safeFileName(name string) string {
	switch name = filepath.Base(name); name {
	case ".", "..", "/":
		return ""
	}
	switch name = filenameRegex.ReplaceAllString(name, "_"); name {
	case "", ".", "..":
		return ""
	}
	return name
}

// FileNameFromURL falls back to the last path element of the URL.
func FileNameFromURL(link string) string {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	if name := safeFileName(path.Base(parsedURL.Path)); name != "" {
		return name
	}
	return "download"
}

// NormalizeChecksum accepts the hex digest the GDC API sends as well as an
// RFC 1864 base64 Content-MD5 value and returns lowercase hex.
func NormalizeChecksum(value string) string {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return ""
	}
	if md5HexRegex.MatchString(value) {
		return strings.ToLower(value)
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(raw) != 16 {
		return ""
	}
	return hex.EncodeToString(raw)
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	formatted := FormatBytes(uint64(bps))
	return formatted + "/s"
}

// Clean removes leftover partial downloads and resume state in dir.
func Clean(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, PartialSuffix) || strings.HasSuffix(name, StateSuffix) || strings.HasSuffix(name, StateSuffix+".tmp") {
			filePath := filepath.Join(dir, name)
			if err := os.Remove(filePath); err != nil {
				return removed, err
			}
			removed = append(removed, filePath)
		}
	}
	return removed, nil
}
