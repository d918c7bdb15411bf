//go:build !gcs
// +build !gcs

package archive

import (
	"context"
	"fmt"
)

func newGCS(_ context.Context, _ Config) (Store, error) {
	return nil, fmt.Errorf("archive: gcs backend requires building with the gcs tag")
}
