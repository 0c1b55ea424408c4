package telegram

import (
	"fmt"
	"io"
	"mime/multipart"
)

// formField is a plain text part of an upload.
type formField struct {
	name, value string
}

// multipartBody encodes fields followed by one file part and returns a
// reader producing the body as it is consumed, plus its Content-Type.
// Closing the reader stops the encoder.
func multipartBody(fields []formField, fileField, fileName string, file io.Reader) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, fileField, fileName, file))
	}()
	return pr, mw.FormDataContentType()
}

func writeMultipart(mw *multipart.Writer, fields []formField, fileField, fileName string, file io.Reader) error {
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("writing field %s: %w", f.name, err)
		}
	}
	part, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copying %s: %w", fileName, err)
	}
	return mw.Close()
}
