package transmitter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
)

// Body encodings.
const (
	ContentTypeJSON      = "application/json"
	ContentTypeMultipart = "multipart/form-data"
	ContentTypeForm      = "application/x-www-form-urlencoded"
)

// EncodeBody renders body values for the template content type: multipart
// form data, JSON, or URL-encoded form for anything else. It returns the
// payload and the Content-Type header to send.
func EncodeBody(contentType string, vals []model.Value) ([]byte, string, error) {
	if len(vals) == 0 {
		return nil, "", nil
	}

	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case mediaType == ContentTypeMultipart:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, v := range vals {
			if err := w.WriteField(v.Name, v.String()); err != nil {
				return nil, "", fmt.Errorf("writing multipart field %s: %w", v.Name, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), w.FormDataContentType(), nil

	case mediaType == ContentTypeJSON || strings.HasSuffix(mediaType, "+json"):
		doc := make(map[string]any, len(vals))
		for _, v := range vals {
			doc[v.Name] = v.JSON()
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, "", fmt.Errorf("encoding JSON body: %w", err)
		}
		return data, contentType, nil

	default:
		form := make([]string, 0, len(vals))
		for _, v := range vals {
			form = append(form, url.QueryEscape(v.Name)+"="+url.QueryEscape(v.String()))
		}
		return []byte(strings.Join(form, "&")), ContentTypeForm, nil
	}
}
