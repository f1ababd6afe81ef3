package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"writecheck/pkg/storage"
)

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ContentTypeFor guesses a MIME type from the file name.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}

// FromPath describes a local file for upload.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	return File{
		Name:        name,
		ContentType: ContentTypeFor(name),
		Size:        info.Size(),
		Open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FromPaths describes several local files, failing on the first bad path.
func FromPaths(paths []string) ([]File, error) {
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		f, err := FromPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// FromObjectStore describes every object under prefix for upload.
func FromObjectStore(ctx context.Context, objects storage.ObjectStore, prefix string) ([]File, error) {
	list, err := objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(list))
	for _, obj := range list {
		key := obj.Key
		ct := obj.ContentType
		if ct == "" || ct == "application/octet-stream" {
			ct = ContentTypeFor(key)
		}
		files = append(files, File{
			Name:        obj.Name(),
			ContentType: ct,
			Size:        obj.Size,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return objects.Open(ctx, key)
			},
		})
	}
	return files, nil
}
