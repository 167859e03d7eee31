package blockrpc

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jhump/protoreflect/v2/protoprint"
)

// WriteProto prints the block service definition to w.
func WriteProto(w io.Writer) error {
	fd, err := Descriptor()
	if err != nil {
		return err
	}
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(fd, w)
}

// WriteProtoFile writes the block service definition below outDir at
// ProtoPath and returns the written path.
func WriteProtoFile(outDir string) (string, error) {
	fp := filepath.Join(outDir, filepath.FromSlash(ProtoPath))
	if err := os.MkdirAll(filepath.Dir(fp), 0755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}
	if err := WriteProto(f); err != nil {
		f.Close()
		return "", err
	}
	return fp, f.Close()
}
