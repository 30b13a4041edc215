package utils

import "os"

// SupportedImageTypes are the upload content types the image decoder can read.
var SupportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
