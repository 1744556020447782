package validation

import "errors"

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFileTooLarge    = errors.New("file size exceeds upload limit")
	ErrEmptyFile       = errors.New("uploaded file is empty")
)
