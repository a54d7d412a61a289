package client

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// FormFile is one file part of a multipart body. An empty MIMEType is
// derived from FileName; a nil Content sends an empty part.
type FormFile struct {
	FieldName string
	FileName  string
	Content   io.Reader
	MIMEType  string
}

// FileFromBytes returns a FormFile holding content.
func FileFromBytes(field, name string, content []byte) FormFile {
	return FormFile{FieldName: field, FileName: name, Content: bytes.NewReader(content)}
}

// FileFromPath reads the file at path into a FormFile named after its base
// name. The file is read immediately so no descriptor outlives the call.
func FileFromPath(field, path string) (FormFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return FormFile{}, fmt.Errorf("form file %s: %w", field, err)
	}
	return FileFromBytes(field, filepath.Base(path), content), nil
}

// multipartBody encodes fields, sorted by name, followed by files in order.
func multipartBody(fields map[string]string, files []FormFile) (encodedBody, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, name := range sortedKeys(fields) {
		if err := mw.WriteField(name, fields[name]); err != nil {
			return encodedBody{}, fmt.Errorf("multipart field %s: %w", name, err)
		}
	}
	for _, f := range files {
		part, err := mw.CreatePart(filePartHeader(f))
		if err != nil {
			return encodedBody{}, fmt.Errorf("multipart file %s: %w", f.FieldName, err)
		}
		if f.Content == nil {
			continue
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return encodedBody{}, fmt.Errorf("multipart file %s: %w", f.FieldName, err)
		}
	}
	if err := mw.Close(); err != nil {
		return encodedBody{}, err
	}
	return encodedBody{data: buf.Bytes(), contentType: mw.FormDataContentType(), present: true}, nil
}

func filePartHeader(f FormFile) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader, 2)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(f.FieldName), escapeQuotes(f.FileName)))
	ct := f.MIMEType
	if ct == "" {
		ct = mimeTypeOf(f.FileName)
	}
	h.Set("Content-Type", ct)
	return h
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// escapeQuotes prepares s for a quoted-string parameter.
func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// uploadTypes covers common uploads whose system mapping varies or carries
// a charset parameter.
var uploadTypes = map[string]string{
	".txt":  "text/plain",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// mimeTypeOf guesses a part's media type from its file name.
func mimeTypeOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := uploadTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}
