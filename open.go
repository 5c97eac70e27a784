package chipcollections

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// IsGoogleStoragePath reports whether path points into a Google Storage
// bucket.
func IsGoogleStoragePath(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// MaybeOpenFromGoogleStorage opens path for reading. Paths beginning with
// gs:// are read from Google Storage using client, which must then be non-nil;
// everything else is opened from the local filesystem. The second return value
// is the object size in bytes.
func MaybeOpenFromGoogleStorage(path string, client *storage.Client) (io.ReadCloser, int64, error) {
	if IsGoogleStoragePath(path) {
		if client == nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: a storage client is required for gs:// paths", path))
		}

		// Detect the bucket and the path to the actual file
		pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
		if len(pathParts) != 2 {
			return nil, 0, fmt.Errorf("Tried to split your google storage path into 2 parts, but got %d: %v", len(pathParts), pathParts)
		}

		handle := client.Bucket(pathParts[0]).Object(pathParts[1])
		rdr, err := handle.NewReader(context.Background())
		if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %w", path, err))
		}

		return rdr, rdr.Attrs.Size, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, fstat.Size(), nil
}

// ReadAllMaybeFromGoogleStorage reads the full contents at path. The image
// decoders swallow i/o errors, so callers decoding images read everything
// into memory first.
func ReadAllMaybeFromGoogleStorage(path string, client *storage.Client) ([]byte, error) {
	f, _, err := MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
