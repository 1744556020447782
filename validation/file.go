package validation

import (
	"bytes"
	"io"
	"mime/multipart"
)

type FileType string

const (
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
	FileTypeBMP  FileType = "bmp"
	FileTypeWEBP FileType = "webp"
)

var magicBytes = map[FileType][]byte{
	FileTypePNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FileTypeJPEG: {0xFF, 0xD8, 0xFF},
	FileTypeBMP:  {0x42, 0x4D},
	FileTypeWEBP: {0x52, 0x49, 0x46, 0x46},
}

// DetectImageType sniffs the leading bytes and rewinds the reader.
func DetectImageType(file multipart.File) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, 0); err != nil {
		return "", err
	}

	if n == 0 {
		return "", ErrEmptyFile
	}

	for fileType, signature := range magicBytes {
		if bytes.HasPrefix(buffer[:n], signature) {
			return fileType, nil
		}
	}

	return "", ErrInvalidFileType
}

func ValidateUpload(header *multipart.FileHeader, file multipart.File, maxSize int64) error {
	if header.Size > maxSize {
		return ErrFileTooLarge
	}

	if _, err := DetectImageType(file); err != nil {
		return err
	}

	return nil
}
